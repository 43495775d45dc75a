//go:build integration

// Package cases runs end-to-end flows against a real document store.
// Build with -tags integration; a container runtime must be available.
package cases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pantrylab/pantryd/internal/bootstrap"
	"github.com/pantrylab/pantryd/internal/config"
	"github.com/pantrylab/pantryd/internal/infrastructure/memory"
	"github.com/pantrylab/pantryd/internal/infrastructure/mongodb"
	"github.com/pantrylab/pantryd/internal/infrastructure/storefront/memstore"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/test/integration/infra"
)

var dbSeq atomic.Int64

type harness struct {
	srv    *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger.Init("disabled", "json")

	cfg := &config.Config{
		Env:                "dev",
		HTTPAddr:           "127.0.0.1:0",
		MongoURI:           infra.StartMongo(t),
		MongoDB:            fmt.Sprintf("pantry_it_%d", dbSeq.Add(1)),
		TokenSigningSecret: "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		ResetTokenTTL:      time.Hour,
		BcryptCost:         4,
		MaxLoginAttempts:   3,
		LockoutDuration:    30 * time.Minute,
		EnablePasswordAuth: true,
		CacheDir:           t.TempDir(),
		CacheTTL:           12 * time.Hour,
		SessionTTL:         7 * 24 * time.Hour,
		StatusCacheTTL:     60 * time.Second,
		LoginFreshTTL:      5 * time.Minute,
		StorefrontDriver:   "memstore",
		ShutdownTimeout:    time.Second,
	}

	app, err := bootstrap.NewWithDeps(cfg, bootstrap.Deps{
		Publisher:         memory.NewEventRecorder(),
		StorefrontFactory: memstore.NewCatalog(memstore.DefaultProducts()).Factory(),
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(app.Cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Mongo.EnsureConnected(ctx, 3); err != nil {
		t.Fatalf("connect: %v", err)
	}
	db, err := app.Mongo.Database(ctx)
	if err != nil {
		t.Fatalf("database: %v", err)
	}
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		t.Fatalf("indexes: %v", err)
	}

	srv := httptest.NewServer(app.Server.Handler)
	t.Cleanup(srv.Close)

	return &harness{srv: srv, client: srv.Client()}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func decodeData(t *testing.T, raw []byte, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, raw)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw)
	}
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, raw)
	}
	return envelope.Error.Code
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type authData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Tokens tokens `json:"tokens"`
}

func (h *harness) register(t *testing.T, email, password string) authData {
	t.Helper()
	resp, raw := h.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d (%s)", resp.StatusCode, raw)
	}
	var out authData
	decodeData(t, raw, &out)
	return out
}
