// Package wsbridge provides a recognition provider backed by a remote
// streaming speech service over WebSocket.
//
// The wire protocol is a thin event bridge: the client opens a socket per
// attempt, sends a JSON start message, streams binary 16-bit PCM frames, and
// receives JSON event frames until the server reports the attempt ended.
//
//	-> {"type": "start", "locale": "ko-KR", "sample_rate": 16000}
//	-> <binary PCM>
//	-> {"type": "stop"}
//	<- {"type": "partial", "text": "...", "confidence": 0.87}
//	<- {"type": "final", "text": "...", "confidence": 0.92, "utterance_boundary": true}
//	<- {"type": "error", "code": "ERROR_NETWORK"}
//	<- {"type": "ended"}
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/audio"
)

const (
	defaultSampleRate = 16000
	stopWriteTimeout  = 2 * time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithAPIKey sets the bearer token sent in the Authorization header.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithMinConfidence drops finals whose confidence is below the threshold,
// surfacing a no-match error instead. Zero keeps every final.
func WithMinConfidence(min float64) Option {
	return func(p *Provider) { p.minConfidence = min }
}

// Provider implements asr.Provider against a streaming speech service
// speaking the event-bridge protocol.
type Provider struct {
	endpoint      string
	apiKey        string
	minConfidence float64
	sources       audio.SourceFactory
}

// New creates a Provider dialing the WebSocket endpoint (ws:// or wss://).
// sources supplies a fresh audio source per attempt.
func New(endpoint string, sources audio.SourceFactory, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("wsbridge: endpoint must not be empty")
	}
	if sources == nil {
		return nil, errors.New("wsbridge: audio source factory must not be nil")
	}
	p := &Provider{endpoint: endpoint, sources: sources}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "wsbridge" }

// Initialize implements asr.Provider. Connections are opened per attempt, so
// there is nothing to warm up.
func (p *Provider) Initialize(_ context.Context) error { return nil }

// RequestPermission implements asr.Provider. The bridge assumes the remote
// service is authorized out of band; a rejected API key surfaces as a client
// error on the first attempt instead.
func (p *Provider) RequestPermission(_ context.Context) (asr.PermissionOutcome, error) {
	return asr.PermissionOutcome{Granted: true}, nil
}

// Start dials the service and opens a streaming recognition attempt.
func (p *Provider) Start(ctx context.Context, cfg asr.StartConfig) (asr.Attempt, error) {
	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("Authorization", "Bearer "+p.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %q: %w", p.endpoint, err)
	}

	src, err := p.sources()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "audio source unavailable")
		return nil, fmt.Errorf("wsbridge: open audio source: %w", err)
	}

	start := wireMessage{Type: "start", Locale: cfg.Locale, SampleRate: defaultSampleRate}
	payload, err := json.Marshal(start)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode start")
		src.Close()
		return nil, fmt.Errorf("wsbridge: encode start message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		conn.Close(websocket.StatusInternalError, "write start")
		src.Close()
		return nil, fmt.Errorf("wsbridge: send start message: %w", err)
	}

	att := &attempt{
		conn:          conn,
		src:           src,
		minConfidence: p.minConfidence,
		events:        make(chan asr.Event, 64),
		done:          make(chan struct{}),
	}
	att.wg.Add(1)
	go att.writeLoop()
	go att.readLoop()
	return att, nil
}

// Dispose implements asr.Provider. Connections live and die with attempts.
func (p *Provider) Dispose() error { return nil }

// ─── wire protocol ───

// wireMessage is both the client control frame and the server event frame.
type wireMessage struct {
	Type              string  `json:"type"`
	Locale            string  `json:"locale,omitempty"`
	SampleRate        int     `json:"sample_rate,omitempty"`
	Text              string  `json:"text,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	UtteranceBoundary bool    `json:"utterance_boundary,omitempty"`
	Code              string  `json:"code,omitempty"`
}

var wireKinds = map[string]asr.EventKind{
	"started":      asr.EventStarted,
	"ready":        asr.EventReady,
	"speech_begin": asr.EventSpeechBegin,
	"speech_end":   asr.EventSpeechEnd,
	"partial":      asr.EventPartial,
	"final":        asr.EventFinal,
	"error":        asr.EventError,
	"ended":        asr.EventEnded,
}

var knownCodes = map[asr.ErrorCode]bool{
	asr.ErrAudio:                   true,
	asr.ErrClient:                  true,
	asr.ErrInsufficientPermissions: true,
	asr.ErrNetwork:                 true,
	asr.ErrNetworkTimeout:          true,
	asr.ErrNoMatch:                 true,
	asr.ErrRecognizerBusy:          true,
	asr.ErrServer:                  true,
	asr.ErrSpeechTimeout:           true,
	asr.ErrUnknown:                 true,
}

func codeFromWire(s string) asr.ErrorCode {
	if c := asr.ErrorCode(s); knownCodes[c] {
		return c
	}
	return asr.ErrUnknown
}

// ─── attempt ───

// attempt is one live streaming recognition attempt. It implements
// asr.Attempt.
type attempt struct {
	conn          *websocket.Conn
	src           audio.Source
	minConfidence float64

	events chan asr.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Events implements asr.Attempt.
func (a *attempt) Events() <-chan asr.Event { return a.events }

// Stop implements asr.Attempt. It sends the stop control frame and closes
// the socket; the read loop winds down and closes the event channel.
func (a *attempt) Stop() error {
	a.once.Do(func() {
		close(a.done)
		ctx, cancel := context.WithTimeout(context.Background(), stopWriteTimeout)
		defer cancel()
		_ = a.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`))
		a.wg.Wait()
		a.conn.Close(websocket.StatusNormalClosure, "attempt stopped")
	})
	return nil
}

// writeLoop streams captured PCM frames as binary messages until the source
// ends or the attempt stops.
func (a *attempt) writeLoop() {
	defer a.wg.Done()
	defer a.src.Close()
	for {
		select {
		case frame, ok := <-a.src.Frames():
			if !ok {
				return
			}
			if err := a.conn.Write(context.Background(), websocket.MessageBinary, frame.Data); err != nil {
				return
			}
		case <-a.done:
			return
		}
	}
}

// readLoop receives server event frames and relays them on the event
// channel. It owns the channel and always closes it with a terminal ended
// event, synthesizing one when the socket drops without it.
func (a *attempt) readLoop() {
	defer close(a.events)

	for {
		_, msg, err := a.conn.Read(context.Background())
		if err != nil {
			select {
			case <-a.done:
			default:
				a.emit(asr.Event{Kind: asr.EventError, Code: asr.ErrNetwork})
			}
			a.emit(asr.Event{Kind: asr.EventEnded})
			return
		}

		ev, ok := a.translate(msg)
		if !ok {
			continue
		}
		a.emit(ev)
		if ev.Kind == asr.EventEnded {
			return
		}
	}
}

// translate maps one wire frame to an asr.Event. Unknown frame types are
// skipped so the protocol can grow without breaking older clients.
func (a *attempt) translate(msg []byte) (asr.Event, bool) {
	var wm wireMessage
	if err := json.Unmarshal(msg, &wm); err != nil {
		return asr.Event{}, false
	}
	kind, ok := wireKinds[wm.Type]
	if !ok {
		return asr.Event{}, false
	}

	if kind == asr.EventFinal && a.minConfidence > 0 && wm.Confidence < a.minConfidence {
		return asr.Event{Kind: asr.EventError, Code: asr.ErrNoMatch}, true
	}

	ev := asr.Event{
		Kind:              kind,
		Text:              wm.Text,
		Confidence:        wm.Confidence,
		UtteranceBoundary: wm.UtteranceBoundary,
	}
	if kind == asr.EventError {
		ev.Code = codeFromWire(wm.Code)
	}
	return ev, true
}

func (a *attempt) emit(ev asr.Event) {
	a.events <- ev
}

var (
	_ asr.Provider = (*Provider)(nil)
	_ asr.Attempt  = (*attempt)(nil)
)
