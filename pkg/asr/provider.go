// Package asr defines the Provider interface for speech-recognition backends.
//
// A provider wraps one recognition engine (a whisper.cpp model, a remote
// streaming recognizer behind a WebSocket bridge, a platform speech service)
// and exposes a uniform attempt-based interface. The central abstraction is
// [Attempt]: one underlying recognition run that emits [Event] values on a
// channel until it ends. Attempts are short-lived: many engines cap a single
// run at one utterance or around a minute of audio, and the session layer
// chains attempts into one continuous caller-visible session.
//
// The attempt's event channel is the hand-off point between provider worker
// goroutines and the session layer's single consumer: providers may emit from
// any goroutine, and the consumer drains serially.
package asr

import "context"

// StartConfig describes a new recognition attempt.
type StartConfig struct {
	// Locale is the BCP-47 language tag for recognition (e.g., "ko-KR",
	// "en-US"). An empty string selects the provider's default.
	Locale string
}

// Attempt represents one live recognition run.
//
// The events channel delivers, in order: EventStarted, then any mix of
// EventReady/EventSpeechBegin/EventSpeechEnd/EventPartial, then EventFinal or
// EventError, and eventually EventEnded followed by channel close. A provider
// that fails mid-run may skip straight to EventError.
//
// Implementations must tolerate Stop being called at any time, more than
// once, and concurrently with event delivery.
type Attempt interface {
	// Events returns the read-only event channel for this attempt. The
	// channel is closed after EventEnded.
	Events() <-chan Event

	// Stop requests teardown of the attempt. It does not wait for teardown to
	// complete; the caller observes completion as EventEnded / channel close.
	// Callers must be prepared for confirmation to never arrive and abandon
	// the attempt after a bounded delay.
	Stop() error
}

// Provider is the abstraction over any recognition backend.
//
// Implementations must be safe for concurrent use. At most one attempt per
// session is active at a time, but a superseded attempt may still be tearing
// down while its successor starts.
type Provider interface {
	// Name returns an opaque backend label used for logging and the façade's
	// Backend accessor (e.g., "whisper", "wsbridge"). Callers must not branch
	// on it.
	Name() string

	// Initialize verifies the backend is available (model loadable, endpoint
	// reachable, OS service present). It is called once before any attempt.
	Initialize(ctx context.Context) error

	// RequestPermission asks for recognition/microphone permission. Platforms
	// without a permission model return a granted outcome immediately.
	RequestPermission(ctx context.Context) (PermissionOutcome, error)

	// Start opens a new recognition attempt. It returns once the attempt is
	// created; recognizer readiness arrives asynchronously as EventStarted.
	// ctx bounds attempt creation only, not the attempt's lifetime.
	Start(ctx context.Context, cfg StartConfig) (Attempt, error)

	// Dispose releases backend resources. No attempt may be started after
	// Dispose returns.
	Dispose() error
}
