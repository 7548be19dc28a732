// Package session implements the continuous-listening session controller.
//
// A controller owns at most one caller-visible session at a time. Under the
// hood a session is a chain of provider recognition attempts: recognizers end
// attempts on utterance boundaries, duration caps and transient errors, and
// the controller re-arms them so the caller perceives one uninterrupted
// session with exactly one Started and one Stopped event per bracket.
//
// All state lives in a single run-loop goroutine. Provider callbacks arrive
// from arbitrary goroutines and are funneled through one channel, tagged with
// the attempt ID that was current when their attempt was created; events
// whose tag no longer matches are discarded, which is what makes asynchronous
// teardown safe to overlap with the next attempt.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voyagerlabs/listenkit/internal/observe"
	"github.com/voyagerlabs/listenkit/internal/throttle"
	"github.com/voyagerlabs/listenkit/internal/transcript"
	"github.com/voyagerlabs/listenkit/pkg/asr"
)

// Tuning defaults. The restart delay keeps the controller from busy-looping a
// recognizer that cannot immediately re-arm after a no-match.
const (
	DefaultLocale             = "ko-KR"
	DefaultThrottleInterval   = 80 * time.Millisecond
	DefaultRestartDelay       = 100 * time.Millisecond
	DefaultForcedCleanupDelay = 2 * time.Second
	DefaultStartTimeout       = 15 * time.Second
	DefaultCancelGrace        = 300 * time.Millisecond
)

// Kind identifies a controller-emitted event.
type Kind int

const (
	KindStarted Kind = iota
	KindReady
	KindSpeechBegin
	KindSpeechEnd
	KindPartial
	KindResult
	KindStopped
	KindError
)

// String returns the event kind's name.
func (k Kind) String() string {
	switch k {
	case KindStarted:
		return "started"
	case KindReady:
		return "ready"
	case KindSpeechBegin:
		return "speech-begin"
	case KindSpeechEnd:
		return "speech-end"
	case KindPartial:
		return "partial"
	case KindResult:
		return "result"
	case KindStopped:
		return "stopped"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a caller-visible session event.
type Event struct {
	Kind Kind

	// Text carries the transcript for KindPartial/KindResult and the
	// provider error code for KindError.
	Text string

	// Err is set for KindError.
	Err error
}

// Sink receives events synchronously from the run loop, in order. It must be
// fast and must not call back into the controller.
type Sink func(Event)

// Config tunes a controller. The zero value selects all defaults.
type Config struct {
	// Locale is the default recognition language tag used when Start is
	// called with an empty locale.
	Locale string

	// ThrottleInterval bounds the partial-result emission rate.
	ThrottleInterval time.Duration

	// RestartDelay is the pause before re-arming after a recoverable error.
	RestartDelay time.Duration

	// ForcedCleanupDelay bounds how long a retired attempt may take to
	// confirm teardown before its reference is released anyway.
	ForcedCleanupDelay time.Duration

	// StartTimeout bounds provider attempt creation.
	StartTimeout time.Duration

	// CancelGrace is how long after a stop request residual provider errors
	// are treated as cancellation artifacts.
	CancelGrace time.Duration

	// DuplicateThreshold is the similarity above which a re-delivered final
	// is dropped from the transcript. Zero selects the default.
	DuplicateThreshold float64

	// Metrics records controller instrumentation. Nil disables it.
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = DefaultThrottleInterval
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.ForcedCleanupDelay <= 0 {
		c.ForcedCleanupDelay = DefaultForcedCleanupDelay
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = DefaultCancelGrace
	}
}

// ─── Run-loop message types ──────────────────────────────────────────────────

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type command struct {
	kind   cmdKind
	locale string
	reply  chan struct{}
}

type taggedKind int

const (
	kindProviderEvent taggedKind = iota
	kindAttemptReady
	kindAttemptFailed
	kindRestartDue
	kindFlushDue
	kindForcedCleanup
)

// tagged is one unit of work for the run loop, correlated to the attempt
// that was current when it was produced.
type tagged struct {
	id   uint64
	kind taggedKind
	ev   asr.Event
	att  asr.Attempt
	err  error
}

// ─── Controller ──────────────────────────────────────────────────────────────

// Controller drives one provider and owns the session state machine. Create
// with New, release with Close.
type Controller struct {
	cfg      Config
	provider asr.Provider
	sink     Sink

	cmds   chan command
	events chan tagged

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Run-loop-owned state. Never touched outside the run goroutine.
	state           State
	attemptID       uint64
	att             asr.Attempt
	locale          string
	startEmitted    bool
	cancellingUntil time.Time
	flushScheduled  bool
	drains          map[uint64]struct{}
	thr             *throttle.Throttle
	acc             *transcript.Accumulator

	// Snapshot for accessors, updated by the run loop.
	mu             sync.Mutex
	snapState      State
	snapTranscript string
}

// New creates a controller for the given provider and starts its run loop.
// Events are delivered to sink from the run loop in order.
func New(cfg Config, provider asr.Provider, sink Sink) *Controller {
	cfg.applyDefaults()
	if sink == nil {
		sink = func(Event) {}
	}
	c := &Controller{
		cfg:      cfg,
		provider: provider,
		sink:     sink,
		cmds:     make(chan command),
		events:   make(chan tagged, 64),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		drains:   make(map[uint64]struct{}),
		thr:      throttle.New(cfg.ThrottleInterval),
		acc:      transcript.NewAccumulator(cfg.DuplicateThreshold),
	}
	go c.run()
	return c
}

// Start begins a new session. Calling it while a session is active is a
// logged no-op. An empty locale selects the configured default.
func (c *Controller) Start(locale string) {
	c.send(command{kind: cmdStart, locale: locale})
}

// Stop ends the current session. Idempotent; calling it while idle is a
// no-op. The Stopped event is emitted immediately rather than waiting for the
// provider's asynchronous teardown confirmation.
func (c *Controller) Stop() {
	c.send(command{kind: cmdStop})
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapState
}

// Transcript returns the accumulated final text of the current session, or
// of the last session while idle.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapTranscript
}

// Close shuts down the run loop. It does not stop an active session first;
// callers that want a clean Stopped event call Stop before Close.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.loopDone
	return nil
}

func (c *Controller) send(cmd command) {
	cmd.reply = make(chan struct{})
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return
	}
	select {
	case <-cmd.reply:
	case <-c.done:
	}
}

// post hands a unit of work to the run loop. Safe from any goroutine.
func (c *Controller) post(t tagged) {
	select {
	case c.events <- t:
	case <-c.done:
	}
}

// ─── Run loop ────────────────────────────────────────────────────────────────

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdStart:
				c.handleStart(cmd.locale)
			case cmdStop:
				c.handleStop()
			}
			close(cmd.reply)
		case t := <-c.events:
			c.handleTagged(t)
		}
	}
}

func (c *Controller) handleStart(locale string) {
	if c.state != StateIdle {
		slog.Warn("session: start ignored, session already active", "state", c.state.String())
		return
	}
	if locale == "" {
		locale = c.cfg.Locale
	}
	c.locale = locale
	c.acc.Reset()
	c.thr.Reset()
	c.flushScheduled = false
	c.cancellingUntil = time.Time{}
	c.startEmitted = false
	c.setState(StateStarting)
	c.publishTranscript()
	c.attemptID++
	c.cfg.Metrics.SessionStarted()
	slog.Info("session: starting", "locale", locale)
	c.launchAttempt()
}

func (c *Controller) handleStop() {
	if c.state == StateIdle || c.state == StateStopping {
		slog.Debug("session: stop ignored", "state", c.state.String())
		return
	}
	c.setState(StateStopping)
	c.cancellingUntil = time.Now().Add(c.cfg.CancelGrace)
	c.thr.Clear()
	c.flushScheduled = false
	c.retireAttempt()
	c.attemptID++
	// Stopped is emitted now, not when the provider confirms teardown; some
	// recognizers confirm late or never, and the forced-cleanup timer covers
	// those.
	c.emit(Event{Kind: KindStopped})
	c.startEmitted = false
	c.setState(StateIdle)
	c.cfg.Metrics.SessionStopped()
	slog.Info("session: stopped")
}

func (c *Controller) handleTagged(t tagged) {
	if t.id != c.attemptID {
		c.handleStale(t)
		return
	}
	switch t.kind {
	case kindAttemptReady:
		if c.state != StateStarting && c.state != StateRestarting {
			go func() { _ = t.att.Stop() }()
			return
		}
		c.att = t.att
		c.forward(t.id, t.att)
	case kindAttemptFailed:
		slog.Error("session: attempt failed to start", "error", t.err)
		if c.state.Active() {
			c.emit(Event{Kind: KindError, Err: t.err})
			c.endSession(c.startEmitted)
		}
	case kindProviderEvent:
		c.handleProviderEvent(t.ev)
	case kindRestartDue:
		if c.state == StateRestarting {
			c.launchAttempt()
		}
	case kindFlushDue:
		c.flushScheduled = false
		if c.state != StateListening {
			return
		}
		if text, ok := c.thr.Flush(time.Now()); ok {
			c.cfg.Metrics.PartialEmitted()
			c.emit(Event{Kind: KindPartial, Text: text})
		}
	}
}

// handleStale processes work tagged with a superseded attempt ID. Nothing
// here mutates session state or emits events; the only processing is drain
// bookkeeping for retired attempts.
func (c *Controller) handleStale(t tagged) {
	switch t.kind {
	case kindAttemptReady:
		// The attempt creation outlived the session or restart that asked
		// for it. Abandon it.
		slog.Debug("session: discarding superseded attempt", "attempt_id", t.id)
		go func() { _ = t.att.Stop() }()
	case kindProviderEvent:
		if t.ev.Kind == asr.EventEnded {
			delete(c.drains, t.id)
			return
		}
		c.cfg.Metrics.StaleEvent()
		slog.Debug("session: discarding stale event",
			"attempt_id", t.id, "kind", t.ev.Kind.String())
	case kindForcedCleanup:
		if _, ok := c.drains[t.id]; ok {
			delete(c.drains, t.id)
			slog.Warn("session: provider never confirmed teardown, releasing attempt",
				"attempt_id", t.id)
		}
	}
}

func (c *Controller) handleProviderEvent(ev asr.Event) {
	switch ev.Kind {
	case asr.EventStarted:
		if c.state == StateStarting || c.state == StateRestarting {
			c.setState(StateListening)
			c.thr.Prime(time.Now())
			// A partial held before a restart is still pending; re-arm its
			// flush under the new attempt.
			c.scheduleFlush()
			if !c.startEmitted {
				c.startEmitted = true
				c.emit(Event{Kind: KindStarted})
			}
		}
	case asr.EventReady:
		c.emit(Event{Kind: KindReady})
	case asr.EventSpeechBegin:
		c.emit(Event{Kind: KindSpeechBegin})
	case asr.EventSpeechEnd:
		c.emit(Event{Kind: KindSpeechEnd})
	case asr.EventPartial:
		if c.state != StateListening {
			return
		}
		if text, ok := c.thr.Submit(time.Now(), ev.Text); ok {
			c.cfg.Metrics.PartialEmitted()
			c.emit(Event{Kind: KindPartial, Text: text})
		} else {
			c.cfg.Metrics.PartialSuppressed()
			c.scheduleFlush()
		}
	case asr.EventFinal:
		// A final supersedes any pending partial for the session.
		c.thr.Clear()
		c.flushScheduled = false
		if c.acc.Append(ev.Text) {
			c.publishTranscript()
			c.cfg.Metrics.FinalAccepted()
			c.emit(Event{Kind: KindResult, Text: ev.Text})
		}
		if ev.UtteranceBoundary && c.state == StateListening && !time.Now().Before(c.cancellingUntil) {
			c.restartAttempt("utterance-boundary", 0)
		}
	case asr.EventError:
		c.handleProviderError(ev.Code)
	case asr.EventEnded:
		c.handleAttemptEnded()
	}
}

func (c *Controller) handleProviderError(code asr.ErrorCode) {
	class := Classify(code, time.Now().Before(c.cancellingUntil))
	c.cfg.Metrics.RecognitionError(string(code), class.String())
	switch class {
	case ClassIgnorable:
		slog.Debug("session: ignoring cancellation artifact", "code", string(code))
	case ClassRetryable:
		if c.state.Active() {
			c.restartAttempt("recoverable:"+string(code), c.cfg.RestartDelay)
		}
	case ClassFatal:
		slog.Error("session: fatal recognition error", "code", string(code))
		c.emit(Event{
			Kind: KindError,
			Text: string(code),
			Err:  fmt.Errorf("session: recognition failed: %s", code),
		})
		c.endSession(c.startEmitted)
	}
}

// handleAttemptEnded runs when the current attempt's stream ends without a
// preceding boundary final or error, which single-utterance recognizers do
// routinely. While the session should stay live the controller re-arms.
func (c *Controller) handleAttemptEnded() {
	c.att = nil
	if !c.state.Active() {
		return
	}
	c.setState(StateRestarting)
	c.attemptID++
	c.flushScheduled = false
	c.cfg.Metrics.AttemptRestarted("attempt-ended")
	slog.Debug("session: attempt ended, re-arming")
	c.scheduleRestart(c.cfg.RestartDelay)
}

// ─── Attempt management ──────────────────────────────────────────────────────

// launchAttempt asks the provider for a new attempt under the current ID.
// Creation is asynchronous and bounded by StartTimeout; the outcome returns
// to the run loop as a tagged message.
func (c *Controller) launchAttempt() {
	id := c.attemptID
	locale := c.locale
	timeout := c.cfg.StartTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ctx, span := observe.StartSpan(ctx, "session.attempt_start")
		defer span.End()
		began := time.Now()
		att, err := c.provider.Start(ctx, asr.StartConfig{Locale: locale})
		c.cfg.Metrics.AttemptStart(time.Since(began), err == nil)
		if err != nil {
			c.post(tagged{id: id, kind: kindAttemptFailed, err: fmt.Errorf("session: start attempt: %w", err)})
			return
		}
		c.post(tagged{id: id, kind: kindAttemptReady, att: att})
	}()
}

// forward copies the attempt's events into the run loop under the attempt's
// ID. A channel that closes without EventEnded gets one synthesized, so drain
// bookkeeping and silent-end re-arming still work.
func (c *Controller) forward(id uint64, att asr.Attempt) {
	go func() {
		sawEnded := false
		for ev := range att.Events() {
			if ev.Kind == asr.EventEnded {
				sawEnded = true
			}
			c.post(tagged{id: id, kind: kindProviderEvent, ev: ev})
		}
		if !sawEnded {
			c.post(tagged{id: id, kind: kindProviderEvent, ev: asr.Event{Kind: asr.EventEnded}})
		}
	}()
}

// retireAttempt requests teardown of the current attempt and registers it for
// drain tracking under its current ID. The controller does not wait for
// confirmation; EventEnded clears the drain entry and the forced-cleanup
// timer bounds how long the entry may linger.
func (c *Controller) retireAttempt() {
	if c.att == nil {
		return
	}
	att := c.att
	c.att = nil
	id := c.attemptID
	c.drains[id] = struct{}{}
	go func() {
		if err := att.Stop(); err != nil {
			slog.Debug("session: attempt stop", "attempt_id", id, "error", err)
		}
	}()
	delay := c.cfg.ForcedCleanupDelay
	time.AfterFunc(delay, func() {
		c.post(tagged{id: id, kind: kindForcedCleanup})
	})
}

func (c *Controller) restartAttempt(reason string, delay time.Duration) {
	c.retireAttempt()
	c.attemptID++
	c.setState(StateRestarting)
	// Any armed flush timer carries the superseded attempt ID and will be
	// discarded; drop the flag so the next held partial arms a fresh one.
	c.flushScheduled = false
	c.cfg.Metrics.AttemptRestarted(reason)
	slog.Debug("session: restarting attempt", "reason", reason)
	if delay <= 0 {
		c.launchAttempt()
		return
	}
	c.scheduleRestart(delay)
}

func (c *Controller) scheduleRestart(delay time.Duration) {
	id := c.attemptID
	time.AfterFunc(delay, func() {
		c.post(tagged{id: id, kind: kindRestartDue})
	})
}

func (c *Controller) scheduleFlush() {
	if c.flushScheduled {
		return
	}
	due, ok := c.thr.NextFlush()
	if !ok {
		return
	}
	c.flushScheduled = true
	id := c.attemptID
	d := time.Until(due)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, func() {
		c.post(tagged{id: id, kind: kindFlushDue})
	})
}

// endSession tears the session down after a fatal failure. Stopped is only
// emitted when the session had emitted Started; a session that failed during
// startup surfaces its Error alone.
func (c *Controller) endSession(emitStopped bool) {
	c.retireAttempt()
	c.attemptID++
	c.thr.Clear()
	c.flushScheduled = false
	if emitStopped {
		c.emit(Event{Kind: KindStopped})
	}
	c.startEmitted = false
	c.setState(StateIdle)
	c.cfg.Metrics.SessionStopped()
}

// ─── Snapshot & emission ─────────────────────────────────────────────────────

func (c *Controller) setState(s State) {
	c.state = s
	c.mu.Lock()
	c.snapState = s
	c.mu.Unlock()
}

func (c *Controller) publishTranscript() {
	text := c.acc.Text()
	c.mu.Lock()
	c.snapTranscript = text
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	c.sink(ev)
}
