/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	twiliojwt "github.com/twilio/twilio-go/client/jwt"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

func testMinter(t *testing.T) *Minter {
	t.Helper()
	m, err := NewMinter(MinterConfig{
		AccountSID:    "ACxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
		APIKeySID:     "SKxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
		APISecret:     "super-secret",
		TwimlAppSID:   "APxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
		AllowIncoming: true,
		TTL:           10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Failed to create minter: %v", err)
	}
	return m
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	baseURL, _ := url.Parse(server.URL)
	core, err := dialersdk.NewClient("session-token", &dialersdk.Config{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		HttpClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	core.BaseURL = baseURL

	return New(core, nil), server
}

func TestNewMinter(t *testing.T) {
	if _, err := NewMinter(MinterConfig{AccountSID: "AC1"}); err == nil {
		t.Error("Expected error for missing credentials")
	}
	m := testMinter(t)
	if _, err := m.Mint(""); err == nil {
		t.Error("Expected error for empty identity")
	}
}

func TestMintCarriesVoiceGrant(t *testing.T) {
	m := testMinter(t)
	signed, err := m.Mint("alice")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	decoded, err := (&twiliojwt.AccessToken{}).FromJwt(signed, "super-secret")
	if err != nil {
		t.Fatalf("Failed to verify minted token: %v", err)
	}

	var grant *twiliojwt.VoiceGrant
	for _, g := range decoded.Grants {
		if vg, ok := g.(*twiliojwt.VoiceGrant); ok {
			grant = vg
		}
	}
	if grant == nil {
		t.Fatal("Expected a voice grant")
	}
	if grant.Outgoing.ApplicationSid != "APxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" {
		t.Errorf("Unexpected application SID %q", grant.Outgoing.ApplicationSid)
	}
	if !grant.Incoming.Allow {
		t.Error("Expected incoming to be allowed")
	}
}

func TestParseClaims(t *testing.T) {
	m := testMinter(t)
	before := time.Now()
	signed, err := m.Mint("bob")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	claims, err := ParseClaims(signed)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if claims.Identity != "bob" {
		t.Errorf("Expected identity bob, got %q", claims.Identity)
	}
	if claims.ExpiresAt.Before(before.Add(9*time.Minute)) || claims.ExpiresAt.After(before.Add(11*time.Minute)) {
		t.Errorf("Expiry %v not within TTL window", claims.ExpiresAt)
	}

	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Error("Expected error for opaque token")
	}
}

func TestTokenStale(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		token *Token
		want  bool
	}{
		{"nil token", nil, true},
		{"empty value", &Token{}, true},
		{"fresh with expiry", &Token{Value: "t", ExpiresAt: now.Add(time.Hour)}, false},
		{"inside refresh margin", &Token{Value: "t", ExpiresAt: now.Add(30 * time.Second)}, true},
		{"no expiry young", &Token{Value: "t", FetchedAt: now.Add(-time.Minute)}, false},
		{"no expiry old", &Token{Value: "t", FetchedAt: now.Add(-2 * time.Hour)}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.token.Stale(now, time.Minute, time.Hour); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFetchToken(t *testing.T) {
	m := testMinter(t)

	t.Run("minted token round trip", func(t *testing.T) {
		handler := Handler(m, func(r *http.Request) (string, bool) {
			if r.Header.Get("Authorization") != "Bearer session-token" {
				return "", false
			}
			return "carol", true
		})
		client, server := newTestClient(t, http.StripPrefix("/voice/token", handler))
		defer server.Close()

		token, err := client.FetchToken(context.Background())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if token.Identity != "carol" {
			t.Errorf("Expected identity carol, got %q", token.Identity)
		}
		if token.ExpiresAt.IsZero() {
			t.Error("Expected expiry parsed from claims")
		}
		if token.FetchedAt.IsZero() {
			t.Error("Expected fetch time")
		}
	})

	t.Run("opaque token keeps max-age semantics", func(t *testing.T) {
		client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "opaque"})
		}))
		defer server.Close()

		token, err := client.FetchToken(context.Background())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if token.Value != "opaque" || !token.ExpiresAt.IsZero() {
			t.Errorf("Unexpected token %+v", token)
		}
	})

	t.Run("missing token is a hard failure", func(t *testing.T) {
		client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"identity": "dave"})
		}))
		defer server.Close()

		if _, err := client.FetchToken(context.Background()); !errors.Is(err, ErrMissingToken) {
			t.Errorf("Expected ErrMissingToken, got %v", err)
		}
	})

	t.Run("unauthorized session", func(t *testing.T) {
		handler := Handler(m, func(r *http.Request) (string, bool) { return "", false })
		client, server := newTestClient(t, handler)
		defer server.Close()

		_, err := client.FetchToken(context.Background())
		if !dialersdk.IsAuthError(err) {
			t.Errorf("Expected auth error, got %v", err)
		}
	})
}

func TestHandlerRejectsNonGet(t *testing.T) {
	handler := Handler(testMinter(t), func(r *http.Request) (string, bool) { return "erin", true })
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/voice/token", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
