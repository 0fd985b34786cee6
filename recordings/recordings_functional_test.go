//go:build functional

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package recordings

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// TestFunctionalRecordingToggle starts and stops a recording on a live call.
//
// Run with:
//
//	DIALER_SESSION_TOKEN=<token> DIALER_BASE_URL=<url> DIALER_CALL_SID=<sid> go test -tags functional -run TestFunctionalRecordingToggle -v ./recordings/
func TestFunctionalRecordingToggle(t *testing.T) {
	token := os.Getenv("DIALER_SESSION_TOKEN")
	callSid := os.Getenv("DIALER_CALL_SID")
	if token == "" || callSid == "" {
		t.Fatal("DIALER_SESSION_TOKEN and DIALER_CALL_SID environment variables are required")
	}

	config := dialersdk.DefaultConfig()
	if base := os.Getenv("DIALER_BASE_URL"); base != "" {
		config.BaseURL = base
	}
	config.Timeout = 30 * time.Second

	client, err := dialersdk.NewClient(token, config)
	if err != nil {
		t.Fatalf("Failed to create dialer client: %v", err)
	}
	rc := New(client, nil)

	ctx := context.Background()
	sid, err := rc.StartRecording(ctx, callSid)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	t.Logf("Recording started: %q", sid)

	if err := rc.StopRecording(ctx, callSid, sid); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
}
