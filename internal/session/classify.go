package session

import "github.com/voyagerlabs/listenkit/pkg/asr"

// Class is the controller's policy for a provider error.
type Class int

const (
	// ClassIgnorable errors are swallowed. Only cancellation artifacts fall
	// here: a recognizer that was just told to stop often reports a spurious
	// client or busy error for the cancelled run.
	ClassIgnorable Class = iota

	// ClassRetryable errors end the attempt but not the session. The
	// controller re-arms the recognizer after a short delay.
	ClassRetryable

	// ClassFatal errors end the session and are surfaced to the caller.
	ClassFatal
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassIgnorable:
		return "ignorable"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a provider error code to a handling policy. cancelling is
// true while an intentional stop is in its grace window; any error arriving
// then is an artifact of the cancellation, not a fresh failure.
//
// Codes outside the table are fatal. Failing closed beats silently retrying
// an error the recognizer never defined.
func Classify(code asr.ErrorCode, cancelling bool) Class {
	if cancelling {
		return ClassIgnorable
	}
	switch code {
	case asr.ErrNoMatch, asr.ErrSpeechTimeout, asr.ErrRecognizerBusy:
		return ClassRetryable
	case asr.ErrAudio, asr.ErrClient, asr.ErrInsufficientPermissions,
		asr.ErrNetwork, asr.ErrNetworkTimeout, asr.ErrServer, asr.ErrUnknown:
		return ClassFatal
	default:
		return ClassFatal
	}
}
