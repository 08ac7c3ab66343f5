package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"communityforum/pkg/store"
	"communityforum/services/auth/app"
	"communityforum/services/auth/internal/oauth"
)

type stubProvider struct {
	name    string
	profile oauth.Profile
	err     error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Exchange(context.Context, string) (oauth.Profile, error) {
	if p.err != nil {
		return oauth.Profile{}, p.err
	}
	return p.profile, nil
}

func newTestServer(t *testing.T, providers ...oauth.Provider) *httptest.Server {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour, store.NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	core, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		Sessions:  sessions,
		Providers: oauth.NewRegistry(providers...),
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	ts := httptest.NewServer(New(Config{App: core}).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) (token string, user map[string]any) {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return body.Token, body.User
}

func TestSignupLoginMeLogout(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/auth/signup", `{"name":"Ana","email":"ana@x.com","password":"pw123"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201", resp.StatusCode)
	}
	_, signupUser := decodeSession(t, resp)
	if signupUser["email"] != "ana@x.com" {
		t.Fatalf("signup user = %+v", signupUser)
	}
	if _, leaked := signupUser["passwordHash"]; leaked {
		t.Fatalf("password hash leaked in response")
	}

	resp = postJSON(t, ts.URL+"/auth/login", `{"email":"ana@x.com","password":"pw123"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	token, loginUser := decodeSession(t, resp)
	if token == "" || loginUser["id"] != signupUser["id"] {
		t.Fatalf("login session mismatch: %+v", loginUser)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	meResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	defer meResp.Body.Close()
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want 200", meResp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/auth/logout", "", map[string]string{"Authorization": "Bearer " + token})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	meResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	meResp.Body.Close()
	if meResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", meResp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/auth/signup", `{"name":"Ana","email":"ana@x.com","password":"pw123"}`, nil)
	resp.Body.Close()

	for _, body := range []string{
		`{"email":"ana@x.com","password":"wrong"}`,
		`{"email":"nobody@x.com","password":"pw123"}`,
	} {
		resp := postJSON(t, ts.URL+"/auth/login", body, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %s status = %d, want 401", body, resp.StatusCode)
		}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		resp.Body.Close()
		if e.Code != "InvalidCredentials" {
			t.Fatalf("error code = %q, want InvalidCredentials", e.Code)
		}
		// Identical message for unknown email and wrong password.
		if !strings.Contains(strings.ToLower(e.Error), "incorrect email address or password") {
			t.Fatalf("unexpected error message %q", e.Error)
		}
	}
}

func TestSignupValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	cases := []string{
		`{"email":"ana@x.com","password":"pw123"}`,
		`{"name":"Ana","password":"pw123"}`,
		`{"name":"Ana","email":"ana@x.com"}`,
		`not json`,
	}
	for _, body := range cases {
		resp := postJSON(t, ts.URL+"/auth/signup", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("signup %s status = %d, want 400", body, resp.StatusCode)
		}
	}

	resp := postJSON(t, ts.URL+"/auth/signup", `{"name":"Ana","email":"ana@x.com","password":"pw123"}`, nil)
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/auth/signup", `{"name":"Ana","email":"ana@x.com","password":"pw456"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate signup status = %d, want 400", resp.StatusCode)
	}
}

func TestOAuthEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubProvider{
		name:    "google",
		profile: oauth.Profile{ExternalID: "g-1", Email: "ana@x.com", Name: "Ana"},
	})

	resp := postJSON(t, ts.URL+"/auth/oauth/google", `{"code":"abc"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("oauth status = %d, want 200", resp.StatusCode)
	}
	token, user := decodeSession(t, resp)
	if token == "" || user["email"] != "ana@x.com" {
		t.Fatalf("oauth session incomplete: %+v", user)
	}

	resp = postJSON(t, ts.URL+"/auth/oauth/unknown", `{"code":"abc"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown provider status = %d, want 400", resp.StatusCode)
	}
}

func TestOAuthExchangeFailure(t *testing.T) {
	ts := newTestServer(t, &stubProvider{name: "google", err: errors.New("boom")})

	resp := postJSON(t, ts.URL+"/auth/oauth/google", `{"code":"abc"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("failed exchange status = %d, want 401", resp.StatusCode)
	}
}

func TestMeRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/auth/me")
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me without token = %d, want 401", resp.StatusCode)
	}
}
