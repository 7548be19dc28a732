package transcript_test

import (
	"testing"

	"github.com/voyagerlabs/listenkit/internal/transcript"
)

func TestAppendJoinsFragments(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(0)
	for _, text := range []string{"turn on the lights", "set a timer", "stop"} {
		if !acc.Append(text) {
			t.Fatalf("Append(%q) dropped a distinct fragment", text)
		}
	}
	want := "turn on the lights set a timer stop"
	if got := acc.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestAppendDropsExactDuplicate(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(0)
	acc.Append("hello world")
	if acc.Append("hello world") {
		t.Fatal("exact duplicate of previous fragment was kept")
	}
	if acc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", acc.Len())
	}
}

func TestAppendDropsNearDuplicate(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(0)
	acc.Append("turn on the living room lights")
	// A restart re-delivered almost the same text with one token changed.
	if acc.Append("turn on the living room light") {
		t.Fatal("near duplicate of previous fragment was kept")
	}
}

func TestAppendKeepsDistantText(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(0)
	acc.Append("turn on the lights")
	if !acc.Append("what time is it") {
		t.Fatal("unrelated fragment was dropped as a duplicate")
	}
}

func TestAppendComparesOnlyPreviousFragment(t *testing.T) {
	t.Parallel()

	// Repeating an older fragment is legitimate speech, only consecutive
	// repeats are suppressed.
	acc := transcript.NewAccumulator(0)
	acc.Append("yes")
	acc.Append("no")
	if !acc.Append("yes") {
		t.Fatal("fragment matching a non-adjacent earlier fragment was dropped")
	}
}

func TestAppendDropsBlank(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(0)
	if acc.Append("   ") {
		t.Fatal("whitespace-only fragment was kept")
	}
	if acc.Append("") {
		t.Fatal("empty fragment was kept")
	}
}

func TestThresholdAboveOneDisablesSimilarity(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(1.1)
	acc.Append("turn on the living room lights")
	if !acc.Append("turn on the living room light") {
		t.Fatal("similarity suppression active despite threshold > 1")
	}
	if acc.Append("turn on the living room light") {
		t.Fatal("exact duplicate kept")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	acc := transcript.NewAccumulator(0)
	acc.Append("hello")
	acc.Reset()
	if acc.Text() != "" || acc.Len() != 0 {
		t.Errorf("after Reset(): Text() = %q, Len() = %d, want empty", acc.Text(), acc.Len())
	}
	if !acc.Append("hello") {
		t.Fatal("fragment from before Reset() still suppressed")
	}
}
