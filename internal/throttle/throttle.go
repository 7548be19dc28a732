// Package throttle coalesces the partial-result firehose into a bounded
// emission rate. Recognizers can deliver interim hypotheses every few
// milliseconds; consumers only need the newest text at a steady cadence.
//
// The type is pure and clock-injected: callers pass the current time into
// Submit and Flush and schedule their own timer from NextFlush. That keeps
// policy fully deterministic under test and leaves goroutines and timers to
// the session controller.
package throttle

import "time"

// Throttle rate-limits and deduplicates partial transcript emissions.
// Not safe for concurrent use; the session run loop is the only caller.
type Throttle struct {
	interval time.Duration

	lastEmit time.Time
	lastText string
	emitted  bool

	pending    string
	hasPending bool
}

// New creates a throttle that emits at most one partial per interval.
func New(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Submit offers a new partial hypothesis. It returns the text to emit now and
// true when the emission window is open, or false when the text was dropped
// as a duplicate or held as pending. A held text overwrites any earlier
// pending text; only the newest hypothesis survives.
func (t *Throttle) Submit(now time.Time, text string) (string, bool) {
	if t.emitted && text == t.lastText {
		// Identical to what the consumer already has. Also supersedes any
		// older pending text.
		t.pending = ""
		t.hasPending = false
		return "", false
	}
	if !t.emitted || now.Sub(t.lastEmit) >= t.interval {
		t.emit(now, text)
		return text, true
	}
	t.pending = text
	t.hasPending = true
	return "", false
}

// Flush emits the pending text if one is due. The session controller calls it
// when the timer scheduled from NextFlush fires.
func (t *Throttle) Flush(now time.Time) (string, bool) {
	if !t.hasPending {
		return "", false
	}
	text := t.pending
	t.pending = ""
	t.hasPending = false
	if t.emitted && text == t.lastText {
		return "", false
	}
	t.emit(now, text)
	return text, true
}

// NextFlush returns when the pending text becomes due, and false when nothing
// is pending.
func (t *Throttle) NextFlush() (time.Time, bool) {
	if !t.hasPending {
		return time.Time{}, false
	}
	return t.lastEmit.Add(t.interval), true
}

// Prime opens the rate window at now without emitting anything. The session
// controller calls it when listening begins, so a burst of partials right
// after start coalesces into one emission instead of leaking the first
// hypothesis through immediately.
func (t *Throttle) Prime(now time.Time) {
	t.lastEmit = now
	t.emitted = true
}

// Clear drops any pending partial. Called when a final supersedes the interim
// hypotheses.
func (t *Throttle) Clear() {
	t.pending = ""
	t.hasPending = false
}

// Reset returns the throttle to its initial state for a new session.
func (t *Throttle) Reset() {
	t.lastEmit = time.Time{}
	t.lastText = ""
	t.emitted = false
	t.Clear()
}

// emit records a delivered text. It also drops any held text: the delivery is
// newer than whatever was pending, and a later Flush must never resurrect an
// older hypothesis.
func (t *Throttle) emit(now time.Time, text string) {
	t.lastEmit = now
	t.lastText = text
	t.emitted = true
	t.pending = ""
	t.hasPending = false
}
