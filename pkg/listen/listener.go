// Package listen is the caller-facing façade over the session controller. It
// exposes one stable, backend-agnostic event set regardless of which
// recognition provider is active, plus accessor state for UI layers that poll
// instead of subscribing.
//
// Subscriptions are token-based: Subscribe returns a handle whose Unsubscribe
// deterministically removes exactly that registration, so listeners
// registered with anonymous functions can still be detached.
package listen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"github.com/voyagerlabs/listenkit/internal/observe"
	"github.com/voyagerlabs/listenkit/internal/session"
	"github.com/voyagerlabs/listenkit/pkg/asr"
)

// Kind identifies a façade event.
type Kind int

const (
	// Started fires exactly once per external Start call, when listening
	// actually begins. Internal provider restarts never re-fire it.
	Started Kind = iota

	// Ready fires when the recognizer reports it is armed. Informational.
	Ready

	// SpeechBegin and SpeechEnd fire on detected speech boundaries. Not all
	// providers signal these.
	SpeechBegin
	SpeechEnd

	// PartialResult carries a throttled interim transcript in Text.
	PartialResult

	// Result carries a committed transcript fragment in Text.
	Result

	// Stopped fires exactly once per external Stop call, and after Error
	// when a session ends fatally.
	Stopped

	// Error carries a fatal recognition failure. Transient provider errors
	// are absorbed internally and never reach this event.
	Error

	// PermissionGranted and PermissionDenied report the outcome of
	// RequestPermission. PermissionDenied carries the reason in Reason.
	PermissionGranted
	PermissionDenied
)

// String returns the event kind's name, which doubles as its bus topic.
func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Ready:
		return "ready"
	case SpeechBegin:
		return "speech-begin"
	case SpeechEnd:
		return "speech-end"
	case PartialResult:
		return "partial-result"
	case Result:
		return "result"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	case PermissionGranted:
		return "permission-granted"
	case PermissionDenied:
		return "permission-denied"
	default:
		return "unknown"
	}
}

// Event is a façade event delivered to subscribers.
type Event struct {
	Kind Kind

	// SessionID identifies the caller-visible session this event belongs to.
	// All events between one Started/Stopped bracket share the same ID.
	// Empty for permission events, which are not tied to a session.
	SessionID string

	// Text carries the transcript for PartialResult and Result.
	Text string

	// Err is set for Error events.
	Err error

	// Reason is set for PermissionDenied.
	Reason string
}

// Handler receives façade events. Handlers run synchronously on the session
// run loop and must not block or call back into the Listener.
type Handler func(Event)

// Subscription is the token returned by Subscribe. It pins the exact handler
// registration so Unsubscribe removes precisely this one.
type Subscription struct {
	kind    Kind
	wrapped func(Event)
}

// Config tunes a Listener.
type Config struct {
	// Session configures the underlying controller: locale, throttle
	// interval, restart and cleanup delays.
	Session session.Config
}

// Listener is the façade instance. Create with New, release with Close.
type Listener struct {
	provider asr.Provider
	ctrl     *session.Controller
	bus      EventBus.Bus

	mu          sync.Mutex
	sessionID   string
	initialized bool
	closed      bool
}

// New creates a Listener over the given provider. The provider must be
// initialized via Initialize before the first Start.
func New(provider asr.Provider, cfg Config) *Listener {
	l := &Listener{
		provider: provider,
		bus:      EventBus.New(),
	}
	l.ctrl = session.New(cfg.Session, provider, l.relay)
	return l
}

// Initialize verifies the provider is usable. Must succeed before Start.
func (l *Listener) Initialize(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "listen.Initialize")
	defer span.End()

	if err := l.provider.Initialize(ctx); err != nil {
		return fmt.Errorf("listen: initialize provider %q: %w", l.provider.Name(), err)
	}
	l.mu.Lock()
	l.initialized = true
	l.mu.Unlock()
	observe.Logger(ctx).Debug("provider initialized", "backend", l.provider.Name())
	return nil
}

// RequestPermission asks the provider for recognition permission and
// publishes PermissionGranted or PermissionDenied with the outcome. The
// returned error reports transport failures only, not denial.
func (l *Listener) RequestPermission(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "listen.RequestPermission")
	defer span.End()

	outcome, err := l.provider.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("listen: request permission: %w", err)
	}
	if outcome.Granted {
		l.publish(Event{Kind: PermissionGranted})
	} else {
		l.publish(Event{Kind: PermissionDenied, Reason: outcome.Reason})
	}
	return nil
}

// Start begins a listening session. An empty locale selects the configured
// default. Starting while a session is active is a no-op, matching the
// controller's policy.
func (l *Listener) Start(locale string) error {
	l.mu.Lock()
	if !l.initialized {
		l.mu.Unlock()
		return errors.New("listen: not initialized")
	}
	if !l.ctrl.State().Active() {
		l.sessionID = uuid.NewString()
	}
	l.mu.Unlock()
	l.ctrl.Start(locale)
	return nil
}

// Stop ends the current session. Idempotent.
func (l *Listener) Stop() {
	l.ctrl.Stop()
}

// Subscribe registers a handler for one event kind and returns its token.
func (l *Listener) Subscribe(kind Kind, h Handler) (*Subscription, error) {
	// Wrap to give every registration a distinct function value; EventBus
	// unsubscribes by function identity.
	wrapped := func(ev Event) { h(ev) }
	if err := l.bus.Subscribe(kind.String(), wrapped); err != nil {
		return nil, fmt.Errorf("listen: subscribe %s: %w", kind, err)
	}
	return &Subscription{kind: kind, wrapped: wrapped}, nil
}

// Unsubscribe removes the registration identified by sub.
func (l *Listener) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if err := l.bus.Unsubscribe(sub.kind.String(), sub.wrapped); err != nil {
		return fmt.Errorf("listen: unsubscribe %s: %w", sub.kind, err)
	}
	return nil
}

// Transcript returns the accumulated final text of the current session, or
// of the last session while idle.
func (l *Listener) Transcript() string {
	return l.ctrl.Transcript()
}

// IsListening reports whether a session is active. It is false immediately
// after any terminal error.
func (l *Listener) IsListening() bool {
	return l.ctrl.State().Active()
}

// IsInitialized reports whether Initialize has succeeded.
func (l *Listener) IsInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// Backend returns the active provider's label. Opaque and informational;
// callers must not branch on it.
func (l *Listener) Backend() string {
	return l.provider.Name()
}

// Close stops any active session, shuts down the controller, and disposes
// the provider.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.ctrl.Stop()
	if err := l.ctrl.Close(); err != nil {
		return err
	}
	if err := l.provider.Dispose(); err != nil {
		return fmt.Errorf("listen: dispose provider: %w", err)
	}
	return nil
}

// relay maps controller events onto the façade surface. It runs on the
// session run loop.
func (l *Listener) relay(ev session.Event) {
	l.mu.Lock()
	id := l.sessionID
	l.mu.Unlock()

	out := Event{SessionID: id, Text: ev.Text, Err: ev.Err}
	switch ev.Kind {
	case session.KindStarted:
		out.Kind = Started
	case session.KindReady:
		out.Kind = Ready
	case session.KindSpeechBegin:
		out.Kind = SpeechBegin
	case session.KindSpeechEnd:
		out.Kind = SpeechEnd
	case session.KindPartial:
		out.Kind = PartialResult
	case session.KindResult:
		out.Kind = Result
	case session.KindStopped:
		out.Kind = Stopped
	case session.KindError:
		out.Kind = Error
	default:
		return
	}
	l.publish(out)
}

func (l *Listener) publish(ev Event) {
	l.bus.Publish(ev.Kind.String(), ev)
}
