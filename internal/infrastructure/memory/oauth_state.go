package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pantrylab/pantryd/internal/application/auth"
)

const oauthStateTTL = 10 * time.Minute

// OAuthStateStore keeps pending PKCE sessions in process memory, keyed
// by state. The fallback when Redis is not configured; state survives
// neither restarts nor multiple instances, which is fine for a
// single-host deployment.
type OAuthStateStore struct {
	mu      sync.Mutex
	pending map[string]memoryStateEntry
}

type memoryStateEntry struct {
	session   auth.PKCESession
	expiresAt time.Time
}

func NewOAuthStateStore() *OAuthStateStore {
	return &OAuthStateStore{pending: make(map[string]memoryStateEntry)}
}

func (s *OAuthStateStore) Save(ctx context.Context, sess auth.PKCESession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, v := range s.pending {
		if now.After(v.expiresAt) {
			delete(s.pending, k)
		}
	}

	s.pending[sess.State] = memoryStateEntry{
		session:   sess,
		expiresAt: now.Add(oauthStateTTL),
	}
	return nil
}

// Consume removes and returns the pending session. One-shot: a replayed
// state misses.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (auth.PKCESession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[state]
	delete(s.pending, state)
	if !ok || time.Now().After(entry.expiresAt) {
		return auth.PKCESession{}, false
	}
	return entry.session, true
}
