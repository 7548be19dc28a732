package listen_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voyagerlabs/listenkit/internal/session"
	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/asr/mock"
	"github.com/voyagerlabs/listenkit/pkg/listen"
)

type recorder struct {
	mu     sync.Mutex
	events []listen.Event
}

func (r *recorder) handle(ev listen.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []listen.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]listen.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newListener(t *testing.T, prov *mock.Provider) *listen.Listener {
	t.Helper()
	l := listen.New(prov, listen.Config{
		Session: session.Config{
			ThrottleInterval: 150 * time.Millisecond,
			RestartDelay:     15 * time.Millisecond,
		},
	})
	t.Cleanup(func() { _ = l.Close() })
	if err := l.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	return l
}

func TestStartRequiresInitialize(t *testing.T) {
	t.Parallel()

	l := listen.New(&mock.Provider{}, listen.Config{})
	t.Cleanup(func() { _ = l.Close() })

	if err := l.Start("en-US"); err == nil {
		t.Fatal("Start() before Initialize() succeeded")
	}
	if l.IsInitialized() {
		t.Error("IsInitialized() = true before Initialize()")
	}
}

func TestSessionBracketSharesOneID(t *testing.T) {
	t.Parallel()

	att := mock.NewAttempt()
	att.EndOnStop = true
	prov := &mock.Provider{Attempts: []*mock.Attempt{att}}
	l := newListener(t, prov)

	rec := &recorder{}
	for _, k := range []listen.Kind{listen.Started, listen.Result, listen.Stopped} {
		if _, err := l.Subscribe(k, rec.handle); err != nil {
			t.Fatalf("Subscribe(%v) = %v", k, err)
		}
	}

	if err := l.Start("en-US"); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	att.Emit(asr.Event{Kind: asr.EventStarted})
	att.Emit(asr.Event{Kind: asr.EventFinal, Text: "hello"})
	waitUntil(t, time.Second, func() bool { return rec.len() >= 2 }, "Started and Result")
	l.Stop()
	waitUntil(t, time.Second, func() bool { return rec.len() >= 3 }, "Stopped")

	evs := rec.snapshot()
	id := evs[0].SessionID
	if id == "" {
		t.Fatal("Started event has empty session ID")
	}
	for _, ev := range evs {
		if ev.SessionID != id {
			t.Errorf("event %v has session ID %q, want %q", ev.Kind, ev.SessionID, id)
		}
	}
}

func TestSeparateSessionsGetSeparateIDs(t *testing.T) {
	t.Parallel()

	att1 := mock.NewAttempt()
	att1.EndOnStop = true
	att2 := mock.NewAttempt()
	prov := &mock.Provider{Attempts: []*mock.Attempt{att1, att2}}
	l := newListener(t, prov)

	rec := &recorder{}
	if _, err := l.Subscribe(listen.Started, rec.handle); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}

	_ = l.Start("en-US")
	att1.Emit(asr.Event{Kind: asr.EventStarted})
	waitUntil(t, time.Second, func() bool { return rec.len() == 1 }, "first Started")
	l.Stop()
	waitUntil(t, time.Second, func() bool { return !l.IsListening() }, "idle")

	_ = l.Start("en-US")
	att2.Emit(asr.Event{Kind: asr.EventStarted})
	waitUntil(t, time.Second, func() bool { return rec.len() == 2 }, "second Started")

	evs := rec.snapshot()
	if evs[0].SessionID == evs[1].SessionID {
		t.Error("two session brackets share one session ID")
	}
}

func TestUnsubscribeRemovesExactlyOneRegistration(t *testing.T) {
	t.Parallel()

	att := mock.NewAttempt()
	prov := &mock.Provider{Attempts: []*mock.Attempt{att}}
	l := newListener(t, prov)

	recA := &recorder{}
	recB := &recorder{}
	subA, err := l.Subscribe(listen.Started, recA.handle)
	if err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if _, err := l.Subscribe(listen.Started, recB.handle); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := l.Unsubscribe(subA); err != nil {
		t.Fatalf("Unsubscribe() = %v", err)
	}

	_ = l.Start("en-US")
	att.Emit(asr.Event{Kind: asr.EventStarted})
	waitUntil(t, time.Second, func() bool { return recB.len() == 1 }, "remaining subscriber")

	time.Sleep(50 * time.Millisecond)
	if recA.len() != 0 {
		t.Errorf("unsubscribed handler received %d events", recA.len())
	}
}

func TestPermissionOutcomeEvents(t *testing.T) {
	t.Parallel()

	prov := &mock.Provider{Permission: asr.PermissionOutcome{Granted: false, Reason: "microphone access denied"}}
	l := newListener(t, prov)

	rec := &recorder{}
	if _, err := l.Subscribe(listen.PermissionDenied, rec.handle); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := l.RequestPermission(context.Background()); err != nil {
		t.Fatalf("RequestPermission() = %v", err)
	}
	waitUntil(t, time.Second, func() bool { return rec.len() == 1 }, "PermissionDenied")
	if got := rec.snapshot()[0].Reason; got != "microphone access denied" {
		t.Errorf("Reason = %q, want %q", got, "microphone access denied")
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	att := mock.NewAttempt()
	att.EndOnStop = true
	prov := &mock.Provider{NameValue: "scripted"}
	prov.Attempts = []*mock.Attempt{att}
	l := newListener(t, prov)

	if got := l.Backend(); got != "scripted" {
		t.Errorf("Backend() = %q, want %q", got, "scripted")
	}
	if l.IsListening() {
		t.Error("IsListening() = true before Start()")
	}

	_ = l.Start("en-US")
	att.Emit(asr.Event{Kind: asr.EventStarted})
	att.Emit(asr.Event{Kind: asr.EventFinal, Text: "hello there"})
	waitUntil(t, time.Second, func() bool { return l.Transcript() == "hello there" }, "transcript")
	if !l.IsListening() {
		t.Error("IsListening() = false while session active")
	}

	l.Stop()
	waitUntil(t, time.Second, func() bool { return !l.IsListening() }, "idle after stop")
}

func TestCloseDisposesProvider(t *testing.T) {
	t.Parallel()

	prov := &mock.Provider{}
	l := listen.New(prov, listen.Config{})
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if prov.DisposeCalls != 1 {
		t.Errorf("Dispose called %d times, want 1", prov.DisposeCalls)
	}
	// A second Close is a no-op.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if prov.DisposeCalls != 1 {
		t.Errorf("Dispose called %d times after double Close, want 1", prov.DisposeCalls)
	}
}
