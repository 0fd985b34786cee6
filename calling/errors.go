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

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
	"github.com/tejzpr/voip-dialer-go-sdk/tokens"
)

// Sentinel errors reported by devices and the session
var (
	// ErrPermissionDenied is returned by a device when microphone access is refused
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrSDKUnavailable is returned when the voice SDK cannot be loaded
	ErrSDKUnavailable = errors.New("voice SDK unavailable")
	// ErrUnsupportedPlatform is returned when a required platform capability is missing
	ErrUnsupportedPlatform = errors.New("platform lacks required voice capabilities")

	// ErrNotIncoming is returned by Accept/Reject on a connection that is not inbound
	ErrNotIncoming = errors.New("connection is not an incoming call")
	// ErrNoIncomingCall is returned by Session.Accept/Reject when no call is pending
	ErrNoIncomingCall = errors.New("no incoming call pending")
	// ErrCallInProgress is returned by Dial while another call is active
	ErrCallInProgress = errors.New("a call is already in progress")
	// ErrMissingDestination is returned when ConnectParams.To is empty
	ErrMissingDestination = errors.New("destination number is required")
	// ErrInvalidDigits is returned for DTMF input outside 0-9, * and #
	ErrInvalidDigits = errors.New("digits must be 0-9, * or #")
	// ErrSessionClosed is returned by every method once Close was called
	ErrSessionClosed = errors.New("session closed")
)

// ErrorKind classifies call failures
type ErrorKind string

const (
	KindPermission          ErrorKind = "PermissionError"
	KindToken               ErrorKind = "TokenError"
	KindSdkLoad             ErrorKind = "SdkLoadError"
	KindNetwork             ErrorKind = "NetworkError"
	KindTimeout             ErrorKind = "TimeoutError"
	KindDevice              ErrorKind = "DeviceError"
	KindBrowserIncompatible ErrorKind = "BrowserIncompatibleError"
)

// Retryable reports whether a connect attempt failing with this kind is retried
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindToken, KindNetwork, KindTimeout, KindDevice:
		return true
	}
	return false
}

// CallError is a classified call failure
type CallError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *CallError) Unwrap() error {
	return e.Err
}

func newCallError(kind ErrorKind, message string, err error) *CallError {
	return &CallError{Kind: kind, Message: message, Err: err}
}

// ClassifyError maps any error onto a CallError. Errors that are already
// classified are returned unchanged; unknown errors become DeviceError.
func ClassifyError(err error) *CallError {
	if err == nil {
		return nil
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return newCallError(KindPermission, "microphone access denied", err)
	case errors.Is(err, ErrSDKUnavailable):
		return newCallError(KindSdkLoad, "voice SDK could not be loaded", err)
	case errors.Is(err, ErrUnsupportedPlatform):
		return newCallError(KindBrowserIncompatible, "platform not supported", err)
	case errors.Is(err, tokens.ErrMissingToken):
		return newCallError(KindToken, "no voice token", err)
	case dialersdk.IsAuthError(err), dialersdk.IsForbidden(err):
		return newCallError(KindToken, "voice token rejected", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newCallError(KindTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return newCallError(KindNetwork, "operation cancelled", err)
	case dialersdk.IsServerError(err), dialersdk.IsRateLimited(err):
		return newCallError(KindNetwork, "backend unavailable", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newCallError(KindTimeout, "network timeout", err)
		}
		return newCallError(KindNetwork, "network failure", err)
	}

	return newCallError(KindDevice, "device failure", err)
}

// ErrorInfo is the user-facing description of a failure
type ErrorInfo struct {
	Title           string
	Description     string
	SuggestedAction string
}

var errorInfos = map[ErrorKind]ErrorInfo{
	KindPermission: {
		Title:           "Microphone access denied",
		Description:     "Calls need access to your microphone.",
		SuggestedAction: "Check your microphone permissions and try again.",
	},
	KindToken: {
		Title:           "Could not authorize the call",
		Description:     "The voice service did not accept your credentials.",
		SuggestedAction: "Sign in again and retry.",
	},
	KindSdkLoad: {
		Title:           "Calling is unavailable",
		Description:     "The voice service could not be loaded.",
		SuggestedAction: "Reload and try again.",
	},
	KindNetwork: {
		Title:           "Network problem",
		Description:     "You appear to be offline or the connection dropped.",
		SuggestedAction: "Check your internet connection and retry.",
	},
	KindTimeout: {
		Title:           "Call timed out",
		Description:     "The call could not be connected in time.",
		SuggestedAction: "Retry",
	},
	KindDevice: {
		Title:           "Call failed",
		Description:     "The voice device reported an error.",
		SuggestedAction: "Retry",
	},
	KindBrowserIncompatible: {
		Title:           "Unsupported platform",
		Description:     "This platform lacks the audio features calls need.",
		SuggestedAction: "Switch to a supported browser or device.",
	},
}

// DescribeError returns the user-facing title, description and suggested
// action for err. A nil error yields an empty ErrorInfo.
func DescribeError(err error) ErrorInfo {
	ce := ClassifyError(err)
	if ce == nil {
		return ErrorInfo{}
	}
	info, ok := errorInfos[ce.Kind]
	if !ok {
		info = errorInfos[KindDevice]
	}
	return info
}
