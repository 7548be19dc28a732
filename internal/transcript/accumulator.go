// Package transcript accumulates committed recognition results into the
// session transcript. Restarting a recognizer mid-stream can re-deliver a
// final that overlaps the previous one, so appends are deduplicated: exact
// repeats are always dropped, and near-repeats are dropped by string
// similarity.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultDuplicateThreshold is the Jaro-Winkler similarity above which a new
// final is considered a re-delivery of the previous one.
const DefaultDuplicateThreshold = 0.9

// Accumulator collects final transcript fragments for one session. Not safe
// for concurrent use; the session run loop is the only writer.
type Accumulator struct {
	threshold float64
	fragments []string
}

// NewAccumulator creates an accumulator. A threshold <= 0 selects
// DefaultDuplicateThreshold; a threshold > 1 disables similarity suppression
// (exact duplicates are still dropped).
func NewAccumulator(threshold float64) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	return &Accumulator{threshold: threshold}
}

// Append adds a final fragment and reports whether it was kept. Empty and
// whitespace-only fragments are dropped, as are exact or near duplicates of
// the previous fragment.
func (a *Accumulator) Append(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if n := len(a.fragments); n > 0 {
		prev := a.fragments[n-1]
		if text == prev {
			return false
		}
		if matchr.JaroWinkler(prev, text, true) >= a.threshold {
			return false
		}
	}
	a.fragments = append(a.fragments, text)
	return true
}

// Text returns the accumulated transcript, fragments joined by single spaces.
func (a *Accumulator) Text() string {
	return strings.Join(a.fragments, " ")
}

// Len returns the number of kept fragments.
func (a *Accumulator) Len() int { return len(a.fragments) }

// Reset clears the accumulator for a new session.
func (a *Accumulator) Reset() {
	a.fragments = a.fragments[:0]
}
