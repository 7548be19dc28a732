// Package mock provides a scripted audio.Source for tests.
package mock

import (
	"sync"

	"github.com/voyagerlabs/listenkit/pkg/audio"
)

// Source is a test double that delivers pre-scripted frames.
type Source struct {
	mu sync.Mutex

	frames chan audio.Frame
	closed bool

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewSource creates a source with a buffered frame channel.
func NewSource() *Source {
	return &Source{frames: make(chan audio.Frame, 64)}
}

// Frames implements audio.Source.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Push delivers one frame to the consumer. Frames pushed after Close are
// dropped.
func (s *Source) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// Close implements audio.Source. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

var _ audio.Source = (*Source)(nil)
