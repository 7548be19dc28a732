// Package malgo captures microphone audio through the miniaudio bindings.
package malgo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voyagerlabs/listenkit/pkg/audio"
)

const frameChanDepth = 128

// Source captures 16-bit PCM from the default capture device and exposes it
// as an audio.Source. One Source owns one device; open a fresh Source per
// recognition attempt.
type Source struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	sampleRate int
	channels   int

	frames chan audio.Frame

	mu     sync.Mutex
	closed bool
}

// Option configures a Source.
type Option func(*Source)

// WithSampleRate sets the capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithChannels sets the capture channel count. Defaults to 1.
func WithChannels(n int) Option {
	return func(s *Source) { s.channels = n }
}

// New opens the default capture device and starts delivering frames. The
// caller must Close the source to release the device.
func New(opts ...Option) (*Source, error) {
	s := &Source{
		sampleRate: 16000,
		channels:   1,
		frames:     make(chan audio.Frame, frameChanDepth),
	}
	for _, o := range opts {
		o(s)
	}
	if s.sampleRate <= 0 || s.channels <= 0 {
		return nil, errors.New("audio: sample rate and channels must be positive")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init capture context: %w", err)
	}
	s.ctx = ctx

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.channels)
	cfg.SampleRate = uint32(s.sampleRate)

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.teardownContext()
		return nil, fmt.Errorf("audio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		s.teardownContext()
		return nil, fmt.Errorf("audio: start capture device: %w", err)
	}
	s.device = device
	return s, nil
}

// Frames implements audio.Source.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Close stops capture, releases the device and closes the frame channel.
// Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	device := s.device
	s.device = nil
	s.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	s.teardownContext()

	s.mu.Lock()
	close(s.frames)
	s.mu.Unlock()
	return nil
}

func (s *Source) teardownContext() {
	if s.ctx == nil {
		return
	}
	_ = s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
}

// onData runs on the miniaudio capture thread. Frames are dropped when the
// consumer lags; capture must never block.
func (s *Source) onData(_, pSample []byte, _ uint32) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	data := make([]byte, len(pSample))
	copy(data, pSample)
	f := audio.Frame{
		Data:       data,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  time.Now(),
	}
	select {
	case s.frames <- f:
	default:
	}
	s.mu.Unlock()
}

var _ audio.Source = (*Source)(nil)
