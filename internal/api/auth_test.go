package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
)

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct{ user, pass string }{
		{"admin", "wrong"},
		{"nobody", "admin"},
		{"", ""},
	}
	for _, tc := range cases {
		body, _ := json.Marshal(map[string]string{"username": tc.user, "password": tc.pass})
		resp, err := http.Post(env.ts.URL+"/v1/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /v1/login: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("login(%q, %q) status = %d, want 401", tc.user, tc.pass, resp.StatusCode)
		}
	}
}

func TestLoginIssuesDistinctTokens(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.login("admin", "admin")
	t2 := env.login("admin", "admin")
	if t1 == t2 {
		t.Error("two logins returned the same token")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{"/v1/stats", "/v1/accounts", "/v1/keepalives"}
	for _, path := range paths {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp = env.do(http.MethodGet, "/v1/stats", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want 401", resp.StatusCode)
	}
}
