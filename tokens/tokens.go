/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package tokens fetches short-lived voice capability tokens from the dialer
// backend and mints them for development gateways.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// ErrMissingToken is returned when the token endpoint answers without a token.
var ErrMissingToken = errors.New("token endpoint returned no token")

// Token is a voice capability token together with the bookkeeping needed to
// decide when it must be refreshed.
type Token struct {
	Value     string
	Identity  string
	FetchedAt time.Time
	// ExpiresAt is zero when the token carries no readable expiry.
	ExpiresAt time.Time
}

// Stale reports whether the token should be replaced at now. Tokens with a
// known expiry are stale margin before it; otherwise they are stale after maxAge.
func (t *Token) Stale(now time.Time, margin, maxAge time.Duration) bool {
	if t == nil || t.Value == "" {
		return true
	}
	if !t.ExpiresAt.IsZero() {
		return !now.Before(t.ExpiresAt.Add(-margin))
	}
	if maxAge > 0 {
		return now.Sub(t.FetchedAt) >= maxAge
	}
	return false
}

// Claims is the readable part of a voice token.
type Claims struct {
	Identity  string
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type voiceGrants struct {
	Grants struct {
		Identity string `json:"identity"`
	} `json:"grants"`
}

// ParseClaims reads the claims of a voice token without verifying its
// signature. The signing secret never leaves the token endpoint, so clients
// only use this to learn the expiry and identity.
func ParseClaims(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256, jose.HS384, jose.HS512, jose.RS256, jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("error parsing token: %w", err)
	}

	var std jwt.Claims
	var grants voiceGrants
	if err := tok.UnsafeClaimsWithoutVerification(&std, &grants); err != nil {
		return nil, fmt.Errorf("error reading token claims: %w", err)
	}

	claims := &Claims{
		Identity: grants.Grants.Identity,
		Subject:  std.Subject,
	}
	if std.Expiry != nil {
		claims.ExpiresAt = std.Expiry.Time()
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	return claims, nil
}

// Config holds the configuration for the tokens client
type Config struct {
	// Path is the token endpoint path relative to the API base URL
	Path string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Path: "voice/token",
	}
}

// Client fetches voice tokens for the authenticated session.
type Client struct {
	dialerClient *dialersdk.Client
	config       *Config
	now          func() time.Time
}

// New creates a new tokens client
func New(dialerClient *dialersdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		dialerClient: dialerClient,
		config:       config,
		now:          time.Now,
	}
}

type tokenResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity,omitempty"`
}

// FetchToken requests a fresh voice token. A response without a token is a
// hard failure (ErrMissingToken).
func (c *Client) FetchToken(ctx context.Context) (*Token, error) {
	resp, err := c.dialerClient.RequestWithRetry(ctx, http.MethodGet, c.config.Path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching voice token: %w", err)
	}

	var body tokenResponse
	if err := dialersdk.ParseResponse(resp, &body); err != nil {
		return nil, err
	}
	if body.Token == "" {
		return nil, ErrMissingToken
	}

	token := &Token{
		Value:     body.Token,
		Identity:  body.Identity,
		FetchedAt: c.now(),
	}

	// Opaque tokens are fine; they just fall back to the max-age rule.
	if claims, err := ParseClaims(body.Token); err == nil {
		token.ExpiresAt = claims.ExpiresAt
		if token.Identity == "" {
			token.Identity = claims.Identity
		}
	} else {
		c.dialerClient.GetLogger().Printf("Voice token is not a readable JWT: %v", err)
	}

	return token, nil
}
