package throttle_test

import (
	"testing"
	"time"

	"github.com/voyagerlabs/listenkit/internal/throttle"
)

func TestSubmitFirstPartialEmitsImmediately(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	text, ok := th.Submit(now, "hel")
	if !ok || text != "hel" {
		t.Fatalf("Submit() = (%q, %v), want (%q, true)", text, ok, "hel")
	}
}

func TestSubmitDropsExactDuplicate(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	th.Submit(now, "hello")
	if _, ok := th.Submit(now.Add(time.Second), "hello"); ok {
		t.Fatal("duplicate of last emitted text was emitted again")
	}
	if _, due := th.NextFlush(); due {
		t.Fatal("duplicate text left a pending flush")
	}
}

func TestSubmitWithinIntervalHoldsNewestPending(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	th.Submit(now, "h")
	if _, ok := th.Submit(now.Add(10*time.Millisecond), "he"); ok {
		t.Fatal("partial inside the interval was emitted immediately")
	}
	if _, ok := th.Submit(now.Add(20*time.Millisecond), "hel"); ok {
		t.Fatal("partial inside the interval was emitted immediately")
	}

	due, ok := th.NextFlush()
	if !ok {
		t.Fatal("NextFlush() reported nothing pending")
	}
	if want := now.Add(80 * time.Millisecond); !due.Equal(want) {
		t.Errorf("NextFlush() = %v, want %v", due, want)
	}

	text, ok := th.Flush(due)
	if !ok || text != "hel" {
		t.Fatalf("Flush() = (%q, %v), want newest pending %q", text, ok, "hel")
	}
}

func TestEmissionsNeverCloserThanInterval(t *testing.T) {
	t.Parallel()

	const interval = 80 * time.Millisecond
	th := throttle.New(interval)
	start := time.Unix(0, 0)

	var emitTimes []time.Time
	// A burst of distinct partials every 5 ms for half a second, flushing
	// whenever a pending text comes due.
	for i := 0; i < 100; i++ {
		now := start.Add(time.Duration(i) * 5 * time.Millisecond)
		if due, ok := th.NextFlush(); ok && !now.Before(due) {
			if _, ok := th.Flush(due); ok {
				emitTimes = append(emitTimes, due)
			}
		}
		if _, ok := th.Submit(now, string(rune('a'+i%26))+string(rune('0'+i/26))); ok {
			emitTimes = append(emitTimes, now)
		}
	}

	if len(emitTimes) < 2 {
		t.Fatalf("expected multiple emissions, got %d", len(emitTimes))
	}
	for i := 1; i < len(emitTimes); i++ {
		if gap := emitTimes[i].Sub(emitTimes[i-1]); gap < interval {
			t.Fatalf("emissions %d and %d only %v apart, want >= %v", i-1, i, gap, interval)
		}
	}
}

func TestDirectEmissionDropsOlderPending(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	th.Submit(now, "a")
	th.Submit(now.Add(10*time.Millisecond), "b")

	// The window reopens, so "c" emits directly, superseding the held "b".
	text, ok := th.Submit(now.Add(90*time.Millisecond), "c")
	if !ok || text != "c" {
		t.Fatalf("Submit() = (%q, %v), want (%q, true)", text, ok, "c")
	}

	if _, ok := th.NextFlush(); ok {
		t.Fatal("direct emission left an older text pending")
	}
	if text, ok := th.Flush(now.Add(time.Second)); ok {
		t.Fatalf("Flush() resurrected stale partial %q after newer emission", text)
	}
}

func TestFlushDropsTextMatchingLastEmitted(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	th.Submit(now, "hello")
	th.Submit(now.Add(10*time.Millisecond), "hello world")
	th.Submit(now.Add(20*time.Millisecond), "hello")

	due, _ := th.NextFlush()
	if text, ok := th.Flush(due); ok {
		t.Fatalf("Flush() emitted %q, but it matches the last emitted text", text)
	}
}

func TestPrimeHoldsEarlyBurst(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	start := time.Unix(0, 0)
	th.Prime(start)

	if _, ok := th.Submit(start.Add(5*time.Millisecond), "hel"); ok {
		t.Fatal("partial right after Prime() was emitted inside the window")
	}
	th.Submit(start.Add(10*time.Millisecond), "hello")

	text, ok := th.Flush(start.Add(80 * time.Millisecond))
	if !ok || text != "hello" {
		t.Fatalf("Flush() = (%q, %v), want (%q, true)", text, ok, "hello")
	}
}

func TestClearDropsPending(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	th.Submit(now, "hel")
	th.Submit(now.Add(10*time.Millisecond), "hello")
	th.Clear()

	if _, ok := th.NextFlush(); ok {
		t.Fatal("Clear() left a pending flush")
	}
	if _, ok := th.Flush(now.Add(time.Second)); ok {
		t.Fatal("Flush() emitted after Clear()")
	}
}

func TestResetForgetsHistory(t *testing.T) {
	t.Parallel()

	th := throttle.New(80 * time.Millisecond)
	now := time.Unix(0, 0)

	th.Submit(now, "hello")
	th.Reset()

	// Same text as before the reset must emit again in a new session.
	text, ok := th.Submit(now.Add(time.Millisecond), "hello")
	if !ok || text != "hello" {
		t.Fatalf("Submit() after Reset() = (%q, %v), want (%q, true)", text, ok, "hello")
	}
}
