package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTokenServer поднимает mock token endpoint.
func setupTokenServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthorizeURL: "https://app.example.com/oauth/authorize",
		TokenURL:     server.URL + "/oauth/v1/token",
		RedirectURL:  "https://sync.example.com/oauth/callback",
		Scopes:       []string{"crm.objects.contacts.read", "crm.objects.contacts.write"},
		HTTPClient:   server.Client(),
	}, testLogger())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_AuthorizeURL(t *testing.T) {
	c := NewClient(Config{
		ClientID:     "client-id",
		AuthorizeURL: "https://app.example.com/oauth/authorize",
		RedirectURL:  "https://sync.example.com/oauth/callback",
		Scopes:       []string{"a", "b"},
	}, testLogger())

	u, err := url.Parse(c.AuthorizeURL("st"))
	if err != nil {
		t.Fatalf("некорректный URL: %v", err)
	}
	q := u.Query()
	if u.Host != "app.example.com" || q.Get("client_id") != "client-id" || q.Get("state") != "st" {
		t.Errorf("AuthorizeURL = %s", u)
	}
	if q.Get("scope") != "a b" {
		t.Errorf("scope = %q, ожидается через пробел", q.Get("scope"))
	}
	if q.Get("redirect_uri") != "https://sync.example.com/oauth/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
}

func TestClient_Exchange(t *testing.T) {
	c := setupTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "the-code" {
			t.Errorf("неожиданная форма: %v", r.PostForm)
		}
		if r.PostForm.Get("client_id") != "client-id" || r.PostForm.Get("client_secret") != "client-secret" {
			t.Errorf("credentials не переданы в теле: %v", r.PostForm)
		}
		if r.PostForm.Get("redirect_uri") != "https://sync.example.com/oauth/callback" {
			t.Errorf("redirect_uri = %q", r.PostForm.Get("redirect_uri"))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    1800,
			"token_type":    "bearer",
			"hub_id":        62515,
			"scope":         "crm.objects.contacts.read crm.objects.contacts.write",
		})
	})

	before := time.Now()
	tok, err := c.Exchange(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("Exchange() ошибка: %v", err)
	}
	if tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Errorf("токены = %+v", tok)
	}
	if tok.RemoteAccountID != "62515" {
		t.Errorf("RemoteAccountID = %q, ожидается 62515", tok.RemoteAccountID)
	}
	if len(tok.Scopes) != 2 {
		t.Errorf("Scopes = %v", tok.Scopes)
	}
	if tok.ExpiresAt.Before(before.Add(29*time.Minute)) || tok.ExpiresAt.After(time.Now().Add(31*time.Minute)) {
		t.Errorf("ExpiresAt = %v вне ожидаемого интервала", tok.ExpiresAt)
	}
}

func TestClient_RefreshKeepsPriorRefreshToken(t *testing.T) {
	c := setupTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt-old" {
			t.Errorf("неожиданная форма: %v", r.PostForm)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "at-2",
			"expires_in":   1800,
			"token_type":   "bearer",
		})
	})

	tok, err := c.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh() ошибка: %v", err)
	}
	if tok.AccessToken != "at-2" || tok.RefreshToken != "rt-old" {
		t.Errorf("токены = %+v, ожидается сохранение прежнего refresh token", tok)
	}
	if tok.Scopes != nil || tok.RemoteAccountID != "" {
		t.Errorf("неожиданные scopes/hub_id: %+v", tok)
	}
}

func TestClient_EndpointError(t *testing.T) {
	longBody := strings.Repeat("x", 800)
	c := setupTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_grant",
			"message": longBody,
		})
	})

	_, err := c.Refresh(context.Background(), "rt-revoked")
	var epErr *EndpointError
	if !errors.As(err, &epErr) {
		t.Fatalf("ожидалась EndpointError, получено %v", err)
	}
	if epErr.Status != http.StatusBadRequest || epErr.Code != "invalid_grant" {
		t.Errorf("EndpointError = %+v", epErr)
	}
	if len([]rune(epErr.Body)) != 500 {
		t.Errorf("длина тела = %d, ожидается 500", len([]rune(epErr.Body)))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("привет", 3); got != "при" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("ok", 10); got != "ok" {
		t.Errorf("Truncate = %q", got)
	}
}
