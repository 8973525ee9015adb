package controller

import (
	"errors"
	"fmt"

	"github.com/avelops/voxnote/internal/credential"
	"github.com/avelops/voxnote/pkg/capture"
	"github.com/avelops/voxnote/pkg/live"
)

// ErrorKind buckets session failures into the categories the user can act on.
type ErrorKind int

const (
	// KindConnectivity is the fallback for unclassified transport failures.
	KindConnectivity ErrorKind = iota

	// KindMicrophonePermissionDenied means the host refused microphone
	// access.
	KindMicrophonePermissionDenied

	// KindInsecureContext means the environment does not permit audio
	// capture at all.
	KindInsecureContext

	// KindDeviceUnavailable means no usable capture device exists.
	KindDeviceUnavailable

	// KindMissingCredential means no API key was available before dialing.
	KindMissingCredential

	// KindHandshakeRejected means the remote end closed the stream right
	// after the dial, which is how a rejected credential presents.
	KindHandshakeRejected
)

// String returns the stable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindMicrophonePermissionDenied:
		return "microphone_permission_denied"
	case KindInsecureContext:
		return "insecure_context"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindMissingCredential:
		return "missing_credential"
	case KindHandshakeRejected:
		return "handshake_rejected"
	default:
		return "connectivity"
	}
}

// Classify maps err onto an [ErrorKind]. Unknown errors classify as
// connectivity failures.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return KindMicrophonePermissionDenied
	case errors.Is(err, capture.ErrInsecureContext):
		return KindInsecureContext
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, credential.ErrMissing):
		return KindMissingCredential
	case errors.Is(err, live.ErrHandshakeRejected):
		return KindHandshakeRejected
	default:
		return KindConnectivity
	}
}

// UserMessage renders err as an actionable message for display. Classified
// failures get a fixed instruction; anything else falls back to a generic
// connectivity message with the raw error attached.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindMicrophonePermissionDenied:
		return "Microphone access was denied. Grant microphone permission and try again."
	case KindInsecureContext:
		return "Audio capture is not available in this environment."
	case KindDeviceUnavailable:
		return "No usable microphone was found. Check that a capture device is connected and not in use."
	case KindMissingCredential:
		return "No API key is configured. Set " + credential.EnvVar + " or add a key to the configuration file."
	case KindHandshakeRejected:
		return "The service rejected the connection. The API key is most likely invalid or forbidden."
	default:
		return fmt.Sprintf("Connection error: %v", err)
	}
}
