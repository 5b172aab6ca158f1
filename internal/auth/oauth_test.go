package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-" + r.Form.Get("grant_type"),
			"token_type":    "Bearer",
			"refresh_token": "refresh",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestProvider(t *testing.T, tokenURL string) *Provider {
	t.Helper()
	return NewProvider(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/callback",
		TokenFile:    filepath.Join(t.TempDir(), "token.json"),
		Endpoint:     oauth2.Endpoint{AuthURL: "http://auth.local/auth", TokenURL: tokenURL},
	}, zap.NewNop())
}

func writeToken(t *testing.T, path string, token *oauth2.Token) {
	t.Helper()
	data, err := json.Marshal(token)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func readToken(t *testing.T, path string) oauth2.Token {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return token
}

func TestEnsureValid(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		var calls int32
		p := newTestProvider(t, newTokenServer(t, &calls).URL)

		if _, err := p.EnsureValid(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("valid token is used as is", func(t *testing.T) {
		var calls int32
		p := newTestProvider(t, newTokenServer(t, &calls).URL)
		writeToken(t, p.tokenFile, &oauth2.Token{
			AccessToken:  "current",
			TokenType:    "Bearer",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(time.Hour),
		})

		var authHeader string
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader = r.Header.Get("Authorization")
		}))
		defer api.Close()

		client, err := p.EnsureValid(context.Background())
		if err != nil {
			t.Fatalf("EnsureValid failed: %v", err)
		}
		resp, err := client.Get(api.URL)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		if authHeader != "Bearer current" {
			t.Errorf("unexpected authorization header %q", authHeader)
		}
		if n := atomic.LoadInt32(&calls); n != 0 {
			t.Errorf("expected no refresh, got %d token calls", n)
		}
	})

	t.Run("expired token is refreshed and saved", func(t *testing.T) {
		var calls int32
		p := newTestProvider(t, newTokenServer(t, &calls).URL)
		writeToken(t, p.tokenFile, &oauth2.Token{
			AccessToken:  "stale",
			TokenType:    "Bearer",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(-time.Hour),
		})

		if _, err := p.EnsureValid(context.Background()); err != nil {
			t.Fatalf("EnsureValid failed: %v", err)
		}
		if n := atomic.LoadInt32(&calls); n != 1 {
			t.Errorf("expected one refresh, got %d", n)
		}
		if saved := readToken(t, p.tokenFile); saved.AccessToken != "fresh-refresh_token" {
			t.Errorf("refreshed token not saved, got %q", saved.AccessToken)
		}
	})
}

func TestExchange(t *testing.T) {
	var calls int32
	p := newTestProvider(t, newTokenServer(t, &calls).URL)

	if err := p.Exchange(context.Background(), "code"); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	saved := readToken(t, p.tokenFile)
	if saved.AccessToken != "fresh-authorization_code" || saved.RefreshToken != "refresh" {
		t.Errorf("unexpected saved token %+v", saved)
	}
}

func TestAuthURL(t *testing.T) {
	p := newTestProvider(t, "http://token.local")
	url := p.AuthURL("state-1")

	for _, want := range []string{"http://auth.local/auth", "client_id=client", "access_type=offline", "state=state-1", "youtube.upload"} {
		if !strings.Contains(url, want) {
			t.Errorf("auth url %q missing %q", url, want)
		}
	}
}
