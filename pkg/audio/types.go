// Package audio defines the capture-side capability consumed by recognition
// providers that pull their own audio (the embedded whisper backends and the
// WebSocket bridge). Session and façade layers never touch audio directly.
package audio

import "time"

// Frame is one chunk of captured audio. Data is 16-bit little-endian signed
// PCM, interleaved when Channels > 1.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
	Timestamp  time.Time
}

// DurationMs returns the frame's duration in milliseconds, zero when the
// frame's format fields are unset.
func (f Frame) DurationMs() int {
	bytesPerMs := f.SampleRate * f.Channels * 2 / 1000
	if bytesPerMs <= 0 {
		return 0
	}
	return len(f.Data) / bytesPerMs
}

// Source is a stream of captured audio frames. The frames channel is closed
// when the source ends or is closed.
type Source interface {
	// Frames returns the read-only frame channel. Slow consumers may lose
	// frames; sources drop rather than block capture.
	Frames() <-chan Frame

	// Close stops capture and closes the frames channel. Safe to call more
	// than once.
	Close() error
}

// SourceFactory creates a fresh Source. Providers open one source per attempt
// so a torn-down attempt never holds the microphone.
type SourceFactory func() (Source, error)
