package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"communityforum/pkg/store"
	"communityforum/services/gateway/internal/authclient"
	"communityforum/services/gateway/internal/forumclient"
)

func newRateLimitedGateway(t *testing.T, forumURL, authURL string, loginLimit, writeLimit int) (*httptest.Server, store.SessionStore) {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("gateway-test-secret", time.Hour, store.NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("NewJWTSessionStore: %v", err)
	}
	srv, err := New(Config{
		Auth:                     authclient.NewClient(authURL),
		Forum:                    forumclient.NewClient(forumURL),
		Sessions:                 sessions,
		SessionTTL:               time.Hour,
		SignupRateLimitPerMinute: 1000,
		LoginRateLimitPerMinute:  loginLimit,
		WriteRateLimitPerMinute:  writeLimit,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func TestLoginRateLimited(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "incorrect email address or password", "code": "InvalidCredentials"})
	}))
	defer auth.Close()
	ts, _ := newRateLimitedGateway(t, "http://127.0.0.1:0", auth.URL, 3, 1000)

	for i := 0; i < 3; i++ {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/auth/login", "", []byte(`{"email":"a@b.c","password":"wrong"}`))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
	}
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/auth/login", "", []byte(`{"email":"a@b.c","password":"wrong"}`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after quota exhausted", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("429 without Retry-After header")
	}
}

func TestWriteRateLimited(t *testing.T) {
	stub := &upstreamStub{status: http.StatusCreated, contentType: "application/json", body: []byte(`{"id":"f1"}`)}
	upstream := httptest.NewServer(stub.handler())
	defer upstream.Close()
	ts, sessions := newRateLimitedGateway(t, upstream.URL, "http://127.0.0.1:0", 1000, 2)

	token, err := sessions.NewSession("writer-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for i := 0; i < 2; i++ {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/forums", token, []byte(`{"title":"t","description":"d"}`))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("write %d status = %d, want 201", i+1, resp.StatusCode)
		}
	}
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/forums", token, []byte(`{"title":"t","description":"d"}`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := stub.calls.Load(); got != 2 {
		t.Fatalf("upstream calls = %d, want 2", got)
	}
}
