package asr

// EventKind identifies the type of a recognition [Event].
type EventKind int

const (
	// EventStarted signals that the attempt has been accepted by the
	// recognizer and the audio path is live.
	EventStarted EventKind = iota

	// EventReady signals that the recognizer is armed and waiting for speech.
	// Informational; some backends never send it.
	EventReady

	// EventSpeechBegin signals detected start of speech. Optional.
	EventSpeechBegin

	// EventSpeechEnd signals detected end of speech. Optional.
	EventSpeechEnd

	// EventPartial carries an interim transcript hypothesis in Text. Partials
	// may be revised by later partials or superseded by a final.
	EventPartial

	// EventFinal carries a committed transcript in Text. When
	// UtteranceBoundary is set the recognizer ended the attempt at an
	// end-of-speech point rather than because of a stop request.
	EventFinal

	// EventError carries a provider error code in Code.
	EventError

	// EventEnded signals that the attempt is fully torn down. It is the last
	// event before the attempt's channel closes.
	EventEnded
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventReady:
		return "ready"
	case EventSpeechBegin:
		return "speech-begin"
	case EventSpeechEnd:
		return "speech-end"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ErrorCode is a backend-agnostic recognition error identifier. The set
// mirrors what OS speech services actually report; providers map their native
// codes onto it. Codes outside this set are treated as [ErrUnknown] by the
// session layer.
type ErrorCode string

const (
	ErrAudio                   ErrorCode = "ERROR_AUDIO"
	ErrClient                  ErrorCode = "ERROR_CLIENT"
	ErrInsufficientPermissions ErrorCode = "ERROR_INSUFFICIENT_PERMISSIONS"
	ErrNetwork                 ErrorCode = "ERROR_NETWORK"
	ErrNetworkTimeout          ErrorCode = "ERROR_NETWORK_TIMEOUT"
	ErrNoMatch                 ErrorCode = "ERROR_NO_MATCH"
	ErrRecognizerBusy          ErrorCode = "ERROR_RECOGNIZER_BUSY"
	ErrServer                  ErrorCode = "ERROR_SERVER"
	ErrSpeechTimeout           ErrorCode = "ERROR_SPEECH_TIMEOUT"
	ErrUnknown                 ErrorCode = "ERROR_UNKNOWN"
)

// Event is a single recognition callback from a provider attempt. Events are
// delivered on the attempt's channel in the order the recognizer produced
// them.
type Event struct {
	// Kind discriminates the event.
	Kind EventKind

	// Text is the transcript for EventPartial and EventFinal.
	Text string

	// Confidence is the recognizer's confidence score in [0, 1] for
	// EventFinal. Zero when the backend does not report confidence.
	Confidence float64

	// UtteranceBoundary is set on an EventFinal that ended the attempt at a
	// detected end-of-speech point. The session layer restarts the attempt to
	// keep the caller-visible session continuous.
	UtteranceBoundary bool

	// Code identifies the failure for EventError.
	Code ErrorCode
}

// PermissionOutcome is the result of a microphone/recognition permission
// request. Platforms without a permission model report granted.
type PermissionOutcome struct {
	// Granted reports whether recognition may proceed.
	Granted bool

	// Reason is a human-readable denial reason. Empty when Granted.
	Reason string
}
