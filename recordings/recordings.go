/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package recordings

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// StartRequest is the body of a recording-start call
type StartRequest struct {
	CallSid string `json:"callSid"`
}

// StartResponse is returned by the recording-start endpoint. RecordingSid may
// be empty when the backend records asynchronously.
type StartResponse struct {
	RecordingSid string `json:"recordingSid,omitempty"`
	Status       string `json:"status,omitempty"`
}

// StopRequest is the body of a recording-stop call
type StopRequest struct {
	CallSid      string `json:"callSid"`
	RecordingSid string `json:"recordingSid"`
}

// Config holds the configuration for the Recordings client
type Config struct {
	StartPath string
	StopPath  string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		StartPath: "recording-start",
		StopPath:  "recording-stop",
	}
}

// Client is the call recording API client
type Client struct {
	dialerClient *dialersdk.Client
	config       *Config
}

// New creates a new Recordings client
func New(dialerClient *dialersdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		dialerClient: dialerClient,
		config:       config,
	}
}

// Start begins recording the call identified by the provider call SID and
// returns the recording SID, if the backend reports one.
func (c *Client) Start(ctx context.Context, callSid string) (*StartResponse, error) {
	if callSid == "" {
		return nil, fmt.Errorf("callSid is required")
	}

	resp, err := c.dialerClient.RequestWithContext(ctx, http.MethodPost, c.config.StartPath, nil, StartRequest{CallSid: callSid})
	if err != nil {
		return nil, fmt.Errorf("error starting recording: %w", err)
	}

	var result StartResponse
	if err := dialersdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// StartRecording is Start reduced to the recording SID.
func (c *Client) StartRecording(ctx context.Context, callSid string) (string, error) {
	result, err := c.Start(ctx, callSid)
	if err != nil {
		return "", err
	}
	return result.RecordingSid, nil
}

// StopRecording stops a recording previously started on callSid.
func (c *Client) StopRecording(ctx context.Context, callSid, recordingSid string) error {
	if callSid == "" {
		return fmt.Errorf("callSid is required")
	}

	body := StopRequest{CallSid: callSid, RecordingSid: recordingSid}
	resp, err := c.dialerClient.RequestWithContext(ctx, http.MethodPost, c.config.StopPath, nil, body)
	if err != nil {
		return fmt.Errorf("error stopping recording: %w", err)
	}

	return dialersdk.ParseResponse(resp, nil)
}
