/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	baseURL, _ := url.Parse(server.URL)
	config := &dialersdk.Config{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		HttpClient: server.Client(),
	}
	client, err := dialersdk.NewClient("test-token", config)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.BaseURL = baseURL

	return New(client, nil), server
}

func TestFetchBalance(t *testing.T) {
	bc, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/balance" {
			t.Errorf("Expected path '/balance', got '%s'", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Unexpected Authorization header %q", r.Header.Get("Authorization"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"balance": 12.5, "currency": "USD"})
	})
	defer server.Close()

	balance, err := bc.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if balance != 12.5 {
		t.Errorf("Expected balance 12.5, got %v", balance)
	}
}

func TestGetCustomPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/credits/balance" {
			t.Errorf("Expected path '/credits/balance', got '%s'", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"balance": 3, "currency": "EUR"})
	}))
	defer server.Close()

	core, err := dialersdk.NewClient("test-token", &dialersdk.Config{
		BaseURL:    server.URL,
		HttpClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	balance, err := New(core, &Config{BalancePath: "credits/balance"}).Get(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if balance.Balance != 3 || balance.Currency != "EUR" {
		t.Errorf("Unexpected balance %+v", balance)
	}
}

func TestFetchBalanceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"payment required", http.StatusPaymentRequired, dialersdk.IsPaymentRequired},
		{"unauthorized", http.StatusUnauthorized, dialersdk.IsAuthError},
		{"server error", http.StatusInternalServerError, dialersdk.IsServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bc, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			})
			defer server.Close()

			_, err := bc.FetchBalance(context.Background())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !tc.check(err) {
				t.Errorf("Unexpected error type: %v", err)
			}
		})
	}
}
