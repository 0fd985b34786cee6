/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package tokens

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	twiliojwt "github.com/twilio/twilio-go/client/jwt"
)

// MinterConfig holds the Twilio credentials used to mint voice access tokens.
type MinterConfig struct {
	AccountSID string
	APIKeySID  string
	APISecret  string
	// TwimlAppSID is the TwiML application that handles outgoing calls.
	TwimlAppSID string
	// AllowIncoming lets the identity receive inbound calls.
	AllowIncoming bool
	// TTL is the token lifetime. Default: 1h.
	TTL time.Duration
}

// Minter issues Twilio voice access tokens. It backs the token endpoint of
// development gateways and tests; production tokens come from the backend.
type Minter struct {
	config MinterConfig
}

// NewMinter validates the credentials and returns a Minter
func NewMinter(config MinterConfig) (*Minter, error) {
	if config.AccountSID == "" || config.APIKeySID == "" || config.APISecret == "" {
		return nil, fmt.Errorf("account SID, API key SID and API secret are required")
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	return &Minter{config: config}, nil
}

// Mint creates a signed access token carrying a voice grant for identity.
func (m *Minter) Mint(identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}

	accessToken := twiliojwt.CreateAccessToken(twiliojwt.AccessTokenParams{
		AccountSid:    m.config.AccountSID,
		SigningKeySid: m.config.APIKeySID,
		Secret:        m.config.APISecret,
		Identity:      identity,
		Ttl:           m.config.TTL.Seconds(),
	})

	grant := &twiliojwt.VoiceGrant{}
	grant.Incoming.Allow = m.config.AllowIncoming
	grant.Outgoing.ApplicationSid = m.config.TwimlAppSID
	accessToken.AddGrant(grant)

	signed, err := accessToken.ToJwt()
	if err != nil {
		return "", fmt.Errorf("error signing access token: %w", err)
	}
	return signed, nil
}

// IdentityFunc resolves the caller identity of a token request. ok is false
// for unauthenticated requests.
type IdentityFunc func(r *http.Request) (identity string, ok bool)

// Handler serves GET requests with {"token": ..., "identity": ...}.
func Handler(m *Minter, identify IdentityFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
			return
		}

		identity, ok := identify(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}

		token, err := m.Mint(identity)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		_ = json.NewEncoder(w).Encode(tokenResponse{Token: token, Identity: identity})
	})
}
