/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package billing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// Balance is the account balance as reported by the billing backend
type Balance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency,omitempty"`
}

// Config holds the configuration for the Billing client
type Config struct {
	// BalancePath is the balance endpoint relative to the API base URL
	BalancePath string
}

// DefaultConfig returns the default configuration for the Billing client
func DefaultConfig() *Config {
	return &Config{
		BalancePath: "balance",
	}
}

// Client is the billing API client
type Client struct {
	dialerClient *dialersdk.Client
	config       *Config
}

// New creates a new Billing client
func New(dialerClient *dialersdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		dialerClient: dialerClient,
		config:       config,
	}
}

// Get returns the full balance document
func (c *Client) Get(ctx context.Context) (*Balance, error) {
	resp, err := c.dialerClient.RequestWithContext(ctx, http.MethodGet, c.config.BalancePath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching balance: %w", err)
	}

	var balance Balance
	if err := dialersdk.ParseResponse(resp, &balance); err != nil {
		return nil, err
	}

	return &balance, nil
}

// FetchBalance returns the current balance. Polling callers should treat
// failures as transient.
func (c *Client) FetchBalance(ctx context.Context) (float64, error) {
	balance, err := c.Get(ctx)
	if err != nil {
		return 0, err
	}
	return balance.Balance, nil
}
