// Package whisper provides whisper.cpp-backed recognition providers.
//
// Two backends are available: [Provider] talks to a running whisper-server
// binary (REST API at POST /inference), and [NativeProvider] links the
// whisper.cpp CGO bindings directly. Both pull PCM from an audio source,
// segment utterances with an energy-based silence detector, and submit each
// completed utterance as one batch inference.
//
// whisper.cpp is a batch engine, so an attempt covers exactly one utterance:
// the committed text is emitted as a partial followed by an
// utterance-boundary final, and the attempt ends. The session layer re-arms
// a new attempt to present continuous listening.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/audio"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which audio is considered silent. The maximum for
	// 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "ko"
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
	defaultSpeechTimeout       = 10 * time.Second
	inferTimeout               = 30 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// commits the buffered utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a commit is forced regardless of silence. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// WithSpeechTimeout sets how long an attempt waits for speech before failing
// with a speech-timeout error. Zero disables the timeout. Defaults to 10 s.
func WithSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.speechTimeout = d }
}

// Provider implements asr.Provider backed by a whisper.cpp HTTP server. Each
// attempt opens its own audio source from the configured factory, so a
// torn-down attempt never holds the capture device.
type Provider struct {
	serverURL string
	model     string
	sources   audio.SourceFactory

	silenceThresholdMs  int
	maxBufferDurationMs int
	speechTimeout       time.Duration

	httpClient *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). sources supplies a fresh audio
// source per attempt.
func New(serverURL string, sources audio.SourceFactory, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	if sources == nil {
		return nil, errors.New("whisper: audio source factory must not be nil")
	}
	p := &Provider{
		serverURL:           serverURL,
		sources:             sources,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		speechTimeout:       defaultSpeechTimeout,
		httpClient:          &http.Client{Timeout: inferTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "whisper" }

// Initialize probes the whisper server. Any HTTP response counts as
// reachable; only transport failures are errors.
func (p *Provider) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: build probe request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: server unreachable at %q: %w", p.serverURL, err)
	}
	resp.Body.Close()
	return nil
}

// RequestPermission implements asr.Provider. A local engine needs none.
func (p *Provider) RequestPermission(_ context.Context) (asr.PermissionOutcome, error) {
	return asr.PermissionOutcome{Granted: true}, nil
}

// Start opens a new single-utterance recognition attempt.
func (p *Provider) Start(ctx context.Context, cfg asr.StartConfig) (asr.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
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
			return p.infer(ctx, pcm, sampleRate, channels, lang)
		},
	}), nil
}

// Dispose implements asr.Provider. The HTTP client holds no resources that
// outlive its attempts.
func (p *Provider) Dispose() error { return nil }

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data.
func (p *Provider) infer(ctx context.Context, pcm []byte, sampleRate, channels int, lang string) (string, asr.ErrorCode, error) {
	wav := encodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", asr.ErrClient, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", asr.ErrClient, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", asr.ErrClient, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", asr.ErrClient, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", asr.ErrClient, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", asr.ErrClient, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		code := asr.ErrNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			code = asr.ErrNetworkTimeout
		}
		return "", code, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", asr.ErrServer, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", asr.ErrNetwork, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", asr.ErrServer, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), "", nil
}

// languageFromLocale reduces a BCP-47 tag to the two-letter language code
// whisper.cpp expects ("ko-KR" becomes "ko").
func languageFromLocale(locale string) string {
	if locale == "" {
		return defaultLanguage
	}
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}

var _ asr.Provider = (*Provider)(nil)
