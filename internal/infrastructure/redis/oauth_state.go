package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pantrylab/pantryd/internal/application/auth"
	"github.com/pantrylab/pantryd/internal/logger"
)

const oauthStatePrefix = "oauth:state:"

// OAuthStateStore keeps pending PKCE sessions in Redis so the
// authorization redirect and the callback can land on different
// instances. Entries expire via TTL; Consume is atomic get-and-delete.
type OAuthStateStore struct {
	client *Client
	ttl    time.Duration
}

func NewOAuthStateStore(client *Client, ttl time.Duration) *OAuthStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OAuthStateStore{client: client, ttl: ttl}
}

type storedPKCESession struct {
	Verifier  string    `json:"verifier"`
	Challenge string    `json:"challenge"`
	Method    string    `json:"method"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *OAuthStateStore) Save(ctx context.Context, sess auth.PKCESession) error {
	data, err := json.Marshal(storedPKCESession{
		Verifier:  sess.Verifier,
		Challenge: sess.Challenge,
		Method:    sess.Method,
		State:     sess.State,
		CreatedAt: sess.CreatedAt,
	})
	if err != nil {
		return err
	}
	return s.client.rdb.Set(ctx, oauthStatePrefix+sess.State, data, s.ttl).Err()
}

// Consume fetches and deletes the pending session in one round trip.
// GETDEL keeps the one-shot property under concurrent callbacks: only
// one caller sees the value.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (auth.PKCESession, bool) {
	data, err := s.client.rdb.GetDel(ctx, oauthStatePrefix+state).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			lg := logger.Component("redis_oauth_state")
			lg.Warn().Err(err).Msg("state lookup failed")
		}
		return auth.PKCESession{}, false
	}

	var stored storedPKCESession
	if err := json.Unmarshal(data, &stored); err != nil {
		return auth.PKCESession{}, false
	}
	return auth.PKCESession{
		Verifier:  stored.Verifier,
		Challenge: stored.Challenge,
		Method:    stored.Method,
		State:     stored.State,
		CreatedAt: stored.CreatedAt,
	}, true
}
