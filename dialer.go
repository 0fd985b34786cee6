/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package dialer

import (
	"sync"

	"github.com/tejzpr/voip-dialer-go-sdk/billing"
	"github.com/tejzpr/voip-dialer-go-sdk/calling"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
	"github.com/tejzpr/voip-dialer-go-sdk/recordings"
	"github.com/tejzpr/voip-dialer-go-sdk/tokens"
)

// DialerClient is the top-level client for the dialer API
type DialerClient struct {
	// Core client for the dialer API
	core *dialersdk.Client

	// Plugins
	tokensClient     *tokens.Client
	billingClient    *billing.Client
	recordingsClient *recordings.Client

	mu sync.Mutex
}

// NewClient creates a new dialer client with the given session token and optional configuration
func NewClient(sessionToken string, config *dialersdk.Config) (*DialerClient, error) {
	core, err := dialersdk.NewClient(sessionToken, config)
	if err != nil {
		return nil, err
	}

	return &DialerClient{core: core}, nil
}

// Tokens returns the voice token plugin
func (c *DialerClient) Tokens() *tokens.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokensClient == nil {
		c.tokensClient = tokens.New(c.core, nil)
	}
	return c.tokensClient
}

// Billing returns the Billing plugin
func (c *DialerClient) Billing() *billing.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.billingClient == nil {
		c.billingClient = billing.New(c.core, nil)
	}
	return c.billingClient
}

// Recordings returns the Recordings plugin
func (c *DialerClient) Recordings() *recordings.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recordingsClient == nil {
		c.recordingsClient = recordings.New(c.core, nil)
	}
	return c.recordingsClient
}

// NewSession creates a call session whose token, balance and recording
// collaborators are this client's plugins. devices places the actual calls;
// a nil factory leaves the session without a calling SDK.
func (c *DialerClient) NewSession(devices calling.DeviceFactory, config *calling.SessionConfig) (*calling.Session, error) {
	if config == nil {
		config = calling.DefaultSessionConfig()
	}
	if config.Logger == nil {
		config.Logger = c.core.GetLogger()
	}

	return calling.NewSession(calling.Collaborators{
		Tokens:     c.Tokens(),
		Devices:    devices,
		Balance:    c.Billing(),
		Recordings: c.Recordings(),
	}, config)
}

// Core returns the core dialer client
func (c *DialerClient) Core() *dialersdk.Client {
	return c.core
}
