/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
	"github.com/tejzpr/voip-dialer-go-sdk/tokens"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net failure" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"permission", ErrPermissionDenied, KindPermission},
		{"wrapped permission", fmt.Errorf("getUserMedia: %w", ErrPermissionDenied), KindPermission},
		{"sdk", ErrSDKUnavailable, KindSdkLoad},
		{"platform", ErrUnsupportedPlatform, KindBrowserIncompatible},
		{"missing token", tokens.ErrMissingToken, KindToken},
		{"unauthorized", &dialersdk.AuthError{APIError: &dialersdk.APIError{StatusCode: 401}}, KindToken},
		{"forbidden", &dialersdk.ForbiddenError{APIError: &dialersdk.APIError{StatusCode: 403}}, KindToken},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"cancelled", context.Canceled, KindNetwork},
		{"server", &dialersdk.ServerError{APIError: &dialersdk.APIError{StatusCode: 503}}, KindNetwork},
		{"rate limited", &dialersdk.RateLimitError{APIError: &dialersdk.APIError{StatusCode: 429}}, KindNetwork},
		{"net timeout", timeoutErr{timeout: true}, KindTimeout},
		{"net failure", timeoutErr{}, KindNetwork},
		{"unknown", errors.New("boom"), KindDevice},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ce := ClassifyError(tc.err)
			if ce.Kind != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, ce.Kind)
			}
			if !errors.Is(ce, tc.err) {
				t.Errorf("Expected classified error to wrap %v", tc.err)
			}
		})
	}
}

func TestClassifyErrorKeepsCallError(t *testing.T) {
	original := newCallError(KindTimeout, "too slow", nil)
	wrapped := fmt.Errorf("attempt 2: %w", original)

	if got := ClassifyError(wrapped); got != original {
		t.Errorf("Expected the original CallError, got %v", got)
	}
	if ClassifyError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestCallErrorString(t *testing.T) {
	ce := newCallError(KindNetwork, "no network connection", nil)
	if ce.Error() != "NetworkError: no network connection" {
		t.Errorf("Unexpected message %q", ce.Error())
	}

	ce = newCallError(KindDevice, "device failure", errors.New("ICE failed"))
	if ce.Error() != "DeviceError: device failure: ICE failed" {
		t.Errorf("Unexpected message %q", ce.Error())
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindPermission:          false,
		KindToken:               true,
		KindSdkLoad:             false,
		KindNetwork:             true,
		KindTimeout:             true,
		KindDevice:              true,
		KindBrowserIncompatible: false,
	}
	for kind, want := range retryable {
		if got := kind.Retryable(); got != want {
			t.Errorf("Expected %s retryable=%v, got %v", kind, want, got)
		}
	}
}

func TestDescribeError(t *testing.T) {
	info := DescribeError(ErrPermissionDenied)
	if info.SuggestedAction != "Check your microphone permissions and try again." {
		t.Errorf("Unexpected suggested action %q", info.SuggestedAction)
	}

	info = DescribeError(newCallError(KindTimeout, "x", nil))
	if info.SuggestedAction != "Retry" {
		t.Errorf("Expected Retry, got %q", info.SuggestedAction)
	}

	for _, kind := range []ErrorKind{KindPermission, KindToken, KindSdkLoad, KindNetwork, KindTimeout, KindDevice, KindBrowserIncompatible} {
		info := DescribeError(newCallError(kind, "x", nil))
		if info.Title == "" || info.Description == "" || info.SuggestedAction == "" {
			t.Errorf("Expected complete description for %s, got %+v", kind, info)
		}
	}

	if info := DescribeError(nil); info != (ErrorInfo{}) {
		t.Errorf("Expected empty info for nil, got %+v", info)
	}
}
