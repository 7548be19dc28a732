// Package mock provides a scripted asr.Provider for tests. Attempts are
// queued ahead of time and popped in FIFO order by Start; each Attempt exposes
// Emit/End so tests drive the exact event sequence a real recognizer would
// produce.
package mock

import (
	"context"
	"sync"

	"github.com/voyagerlabs/listenkit/pkg/asr"
)

// StartCall records the arguments of one Provider.Start invocation.
type StartCall struct {
	Ctx context.Context
	Cfg asr.StartConfig
}

// Provider is a configurable mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Attempts is a FIFO queue of attempts handed out by Start. When empty,
	// Start creates a fresh attempt via NewAttempt.
	Attempts []*Attempt

	// InitializeErr, when set, is returned by Initialize.
	InitializeErr error

	// Permission is returned by RequestPermission. Zero value denies without
	// a reason, so tests that care should set Granted explicitly.
	Permission asr.PermissionOutcome

	// PermissionErr, when set, is returned by RequestPermission.
	PermissionErr error

	// StartErr, when set, is returned by Start instead of an attempt.
	StartErr error

	// StartCalls records every Start invocation in order.
	StartCalls []StartCall

	// InitializeCalls and DisposeCalls count invocations.
	InitializeCalls int
	DisposeCalls    int
}

// Name implements asr.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// Initialize implements asr.Provider.
func (p *Provider) Initialize(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitializeCalls++
	return p.InitializeErr
}

// RequestPermission implements asr.Provider.
func (p *Provider) RequestPermission(_ context.Context) (asr.PermissionOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Permission, p.PermissionErr
}

// Start implements asr.Provider. It records the call and pops the next queued
// attempt.
func (p *Provider) Start(ctx context.Context, cfg asr.StartConfig) (asr.Attempt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if len(p.Attempts) > 0 {
		att := p.Attempts[0]
		p.Attempts = p.Attempts[1:]
		return att, nil
	}
	return NewAttempt(), nil
}

// Dispose implements asr.Provider.
func (p *Provider) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DisposeCalls++
	return nil
}

// StartCallCount returns the number of Start invocations so far.
func (p *Provider) StartCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartCalls)
}

// Attempt is a scripted asr.Attempt. Tests call Emit and End to feed events to
// the consumer.
type Attempt struct {
	mu sync.Mutex

	// StopErr, when set, is returned by Stop.
	StopErr error

	// EndOnStop makes the first Stop call behave like a cooperative
	// recognizer: it emits EventEnded and closes the channel.
	EndOnStop bool

	// StopCalls counts Stop invocations.
	StopCalls int

	events chan asr.Event
	ended  bool
}

// NewAttempt creates an attempt with a buffered event channel large enough
// for any scripted sequence.
func NewAttempt() *Attempt {
	return &Attempt{events: make(chan asr.Event, 32)}
}

// Events implements asr.Attempt.
func (a *Attempt) Events() <-chan asr.Event { return a.events }

// Emit delivers one event to the consumer. Events emitted after End are
// silently dropped, matching a recognizer that went quiet.
func (a *Attempt) Emit(ev asr.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.events <- ev
}

// End emits EventEnded and closes the event channel. Idempotent.
func (a *Attempt) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.ended = true
	a.events <- asr.Event{Kind: asr.EventEnded}
	close(a.events)
}

// Stop implements asr.Attempt.
func (a *Attempt) Stop() error {
	a.mu.Lock()
	endNow := a.EndOnStop && !a.ended
	a.StopCalls++
	err := a.StopErr
	a.mu.Unlock()
	if endNow {
		a.End()
	}
	return err
}

// StopCallCount returns the number of Stop invocations so far.
func (a *Attempt) StopCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StopCalls
}

var (
	_ asr.Provider = (*Provider)(nil)
	_ asr.Attempt  = (*Attempt)(nil)
)
