package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/minhvu-dev/subsweep/internal/config"
	"github.com/minhvu-dev/subsweep/internal/keystore"
	"github.com/minhvu-dev/subsweep/internal/rotation"
)

func testServer(t *testing.T, cfg config.APIConfig, reload func() error) (*Server, *keystore.Store) {
	t.Helper()
	seeds := []keystore.AccountSeed{
		{
			AccountID: "main",
			Projects: []keystore.ProjectSeed{
				{ProjectName: "proj-1", APIKey: "secret-key-1"},
				{ProjectName: "proj-2", APIKey: "secret-key-2"},
			},
		},
	}
	st, err := keystore.Open(filepath.Join(t.TempDir(), "state.json"), seeds, keystore.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, st, rotation.NewScheduler(st), nil, reload), st
}

func do(t *testing.T, s *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, config.APIConfig{}, nil)
	w := do(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "status").String(); got != "ok" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListKeysNeverLeaksSecrets(t *testing.T) {
	s, _ := testServer(t, config.APIConfig{}, nil)
	w := do(t, s, http.MethodGet, "/v1/keys", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "secret-key") {
		t.Fatalf("response leaks API keys: %s", body)
	}
	accounts := gjson.Get(body, "accounts").Array()
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d", len(accounts))
	}
	projects := accounts[0].Get("projects").Array()
	if len(projects) != 2 || projects[0].Get("status").String() != "available" {
		t.Errorf("projects = %s", accounts[0].Get("projects").Raw)
	}
}

func TestGetStats(t *testing.T) {
	s, _ := testServer(t, config.APIConfig{}, nil)
	w := do(t, s, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "total_projects").Int(); got != 2 {
		t.Errorf("total_projects = %d, want 2", got)
	}
}

func TestGetUsageWithoutSink(t *testing.T) {
	s, _ := testServer(t, config.APIConfig{}, nil)
	w := do(t, s, http.MethodGet, "/v1/usage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "statistics").String(); got != "disabled" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := testServer(t, config.APIConfig{AuthToken: "token123"}, nil)

	w := do(t, s, http.MethodPost, "/v1/keys/reset", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	w = do(t, s, http.MethodPost, "/v1/keys/reset", map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "error.code").String(); got != "unauthorized" {
		t.Errorf("error code = %q", got)
	}

	w = do(t, s, http.MethodPost, "/v1/keys/reset", map[string]string{"Authorization": "Bearer token123"})
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}

	// Read-only routes stay open.
	w = do(t, s, http.MethodGet, "/v1/keys", nil)
	if w.Code != http.StatusOK {
		t.Errorf("read route: status = %d, want 200", w.Code)
	}
}

func TestResetKeys(t *testing.T) {
	s, st := testServer(t, config.APIConfig{}, nil)
	_ = st.Update(func(cfg *keystore.Config) {
		cfg.Accounts[0].Projects[0].Status = keystore.StatusExhausted
	})

	w := do(t, s, http.MethodPost, "/v1/keys/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "reset").Int(); got != 1 {
		t.Errorf("reset count = %d, want 1", got)
	}
	st.View(func(cfg *keystore.Config) {
		if cfg.Accounts[0].Projects[0].Status != keystore.StatusAvailable {
			t.Error("credential not reset")
		}
	})
}

func TestResetRotation(t *testing.T) {
	s, st := testServer(t, config.APIConfig{}, nil)
	_ = st.Update(func(cfg *keystore.Config) {
		cfg.Rotation.CurrentAccountIndex = 1
		cfg.Rotation.CurrentProjectIndex = 1
	})

	w := do(t, s, http.MethodPost, "/v1/rotation/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st.View(func(cfg *keystore.Config) {
		if cfg.Rotation.CurrentAccountIndex != 0 || cfg.Rotation.CurrentProjectIndex != 0 {
			t.Error("cursor not reset")
		}
	})
}

func TestReload(t *testing.T) {
	called := false
	s, _ := testServer(t, config.APIConfig{}, func() error {
		called = true
		return nil
	})
	w := do(t, s, http.MethodPost, "/v1/reload", nil)
	if w.Code != http.StatusOK || !called {
		t.Errorf("status = %d, called = %v", w.Code, called)
	}

	s, _ = testServer(t, config.APIConfig{}, func() error { return errors.New("bad creds") })
	w = do(t, s, http.MethodPost, "/v1/reload", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failing reload: status = %d, want 500", w.Code)
	}

	s, _ = testServer(t, config.APIConfig{}, nil)
	w = do(t, s, http.MethodPost, "/v1/reload", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("unwired reload: status = %d, want 501", w.Code)
	}
}
