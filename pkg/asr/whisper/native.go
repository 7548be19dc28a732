package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/audio"
)

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeSilenceThresholdMs sets the consecutive-silence duration (ms)
// that commits the buffered utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the maximum buffered audio duration
// (ms) before a commit is forced. Defaults to 10 s.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxBufferDurationMs = ms }
}

// WithNativeSpeechTimeout sets how long an attempt waits for speech before
// failing with a speech-timeout error. Zero disables the timeout.
func WithNativeSpeechTimeout(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.speechTimeout = d }
}

// NativeProvider implements asr.Provider using the whisper.cpp CGO bindings
// directly, with no external server. The model is loaded once in Initialize
// and shared; each inference gets its own whisper context, serialized by a
// mutex because whisper.cpp contexts are not reentrant.
type NativeProvider struct {
	modelPath string
	sources   audio.SourceFactory

	silenceThresholdMs  int
	maxBufferDurationMs int
	speechTimeout       time.Duration

	mu    sync.Mutex
	model whisperlib.Model
}

// NewNative creates a NativeProvider loading the GGML model at modelPath.
// The model file is not touched until Initialize.
func NewNative(modelPath string, sources audio.SourceFactory, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	if sources == nil {
		return nil, errors.New("whisper: audio source factory must not be nil")
	}
	p := &NativeProvider{
		modelPath:           modelPath,
		sources:             sources,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		speechTimeout:       defaultSpeechTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Initialize loads the GGML model into memory. Loading a multi-hundred-MB
// model takes seconds, which is why it is not done in NewNative.
func (p *NativeProvider) Initialize(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return nil
	}
	model, err := whisperlib.New(p.modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
	}
	p.model = model
	return nil
}

// RequestPermission implements asr.Provider. A local engine needs none.
func (p *NativeProvider) RequestPermission(_ context.Context) (asr.PermissionOutcome, error) {
	return asr.PermissionOutcome{Granted: true}, nil
}

// Start opens a new single-utterance recognition attempt.
func (p *NativeProvider) Start(ctx context.Context, cfg asr.StartConfig) (asr.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	p.mu.Lock()
	loaded := p.model != nil
	p.mu.Unlock()
	if !loaded {
		return nil, errors.New("whisper: model not loaded, call Initialize first")
	}
	src, err := p.sources()
	if err != nil {
		return nil, fmt.Errorf("whisper: open audio source: %w", err)
	}
	lang := languageFromLocale(cfg.Locale)
	return startAttempt(attemptConfig{
		src:                 src,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		speechTimeout:       p.speechTimeout,
		infer: func(ctx context.Context, pcm []byte, sampleRate, channels int) (string, asr.ErrorCode, error) {
			return p.infer(ctx, pcm, channels, lang)
		},
	}), nil
}

// Dispose releases the loaded model.
func (p *NativeProvider) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	if err != nil {
		return fmt.Errorf("whisper: close model: %w", err)
	}
	return nil
}

func (p *NativeProvider) infer(ctx context.Context, pcm []byte, channels int, lang string) (string, asr.ErrorCode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return "", asr.ErrClient, errors.New("whisper: model disposed")
	}
	if err := ctx.Err(); err != nil {
		return "", asr.ErrNetworkTimeout, fmt.Errorf("whisper: inference cancelled: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", asr.ErrClient, fmt.Errorf("whisper: create context: %w", err)
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", asr.ErrClient, fmt.Errorf("whisper: set language %q: %w", lang, err)
		}
	}

	// The Process call itself is CGO and cannot be interrupted; the deadline
	// is enforced before it and between segment reads.
	samples := pcmToFloat32Mono(pcm, channels)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", asr.ErrClient, fmt.Errorf("whisper: process audio: %w", err)
	}

	text, err := collectSegments(ctx, wctx)
	if err != nil {
		code := asr.ErrClient
		if ctx.Err() != nil {
			code = asr.ErrNetworkTimeout
		}
		return "", code, err
	}
	return text, "", nil
}

// segmentSource is the slice of the whisper.cpp context that collectSegments
// consumes.
type segmentSource interface {
	NextSegment() (whisperlib.Segment, error)
}

// collectSegments drains decoded segments into one transcript, checking the
// deadline between reads.
func collectSegments(ctx context.Context, src segmentSource) (string, error) {
	var sb strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("whisper: inference cancelled: %w", err)
		}
		segment, err := src.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(segment.Text))
	}
	return strings.TrimSpace(sb.String()), nil
}

var _ asr.Provider = (*NativeProvider)(nil)
