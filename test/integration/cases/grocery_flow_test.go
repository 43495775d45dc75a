//go:build integration

package cases

import (
	"net/http"
	"testing"
)

func TestGroceryVersionConflictOnStaleWrite(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, itEmail, itPassword)
	tok := reg.Tokens.AccessToken

	resp, raw := h.do(t, http.MethodPost, "/api/v1/grocery-lists/", tok, map[string]any{
		"name":  "weekly",
		"items": []map[string]any{{"name": "milk", "quantity": 2, "unit": "l"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d (%s)", resp.StatusCode, raw)
	}

	// First writer wins.
	resp, raw = h.do(t, http.MethodPut, "/api/v1/grocery-lists/weekly", tok, map[string]any{
		"items":            []map[string]any{{"name": "eggs", "quantity": 12}},
		"expected_version": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d (%s)", resp.StatusCode, raw)
	}

	// A second writer holding the old version loses cleanly.
	resp, raw = h.do(t, http.MethodPut, "/api/v1/grocery-lists/weekly", tok, map[string]any{
		"items":            []map[string]any{{"name": "bread", "quantity": 1}},
		"expected_version": 1,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale update: expected 409, got %d (%s)", resp.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "version_conflict" {
		t.Fatalf("expected version_conflict, got %q", code)
	}

	// The winning write is what persisted.
	resp, raw = h.do(t, http.MethodGet, "/api/v1/grocery-lists/weekly", tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d (%s)", resp.StatusCode, raw)
	}
	var got struct {
		Version int64 `json:"version"`
		Items   []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	decodeData(t, raw, &got)
	if got.Version != 2 || len(got.Items) != 1 || got.Items[0].Name != "eggs" {
		t.Fatalf("unexpected persisted state: %+v", got)
	}
}
