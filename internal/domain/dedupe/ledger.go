// Package dedupe provides the replay-safety bookkeeping used by the tracing
// engine and the in-flight tracker used by the async ingestion path.
package dedupe

import (
	"slices"
	"time"
)

// DefaultWindow is the number of applied event IDs a ledger retains.
const DefaultWindow = 256

// Entry is one applied event in a ledger.
type Entry struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Ledger records which evidence events were folded into a mastery record.
//
// It keeps the most recent Window event IDs verbatim. IDs pushed out of the
// window advance Horizon to the newest evicted timestamp; any event at or
// before Horizon that is not in the window is reported as already applied.
// Ledger values are immutable: Record returns a new ledger.
type Ledger struct {
	Entries []Entry   `json:"entries"`
	Horizon time.Time `json:"horizon"`
}

// Match tells how Lookup recognised an event.
type Match int

// Lookup results.
const (
	// NotApplied means the event is new to the ledger.
	NotApplied Match = iota
	// ByID means the event ID is held in the window.
	ByID
	// ByHorizon means the ID is unknown but the event is not newer than
	// Horizon, so it is assumed to have been evicted.
	ByHorizon
)

// Lookup reports whether and how the event was already applied.
func (l Ledger) Lookup(id string, at time.Time) Match {
	for i := len(l.Entries) - 1; i >= 0; i-- {
		if l.Entries[i].ID == id {
			return ByID
		}
	}
	if l.Horizon.IsZero() || at.IsZero() || at.After(l.Horizon) {
		return NotApplied
	}
	return ByHorizon
}

// Contains reports whether the event was already applied.
func (l Ledger) Contains(id string, at time.Time) bool {
	return l.Lookup(id, at) != NotApplied
}

// Record returns a copy of the ledger with id appended, evicting the oldest
// entries beyond window. A window <= 0 uses DefaultWindow.
func (l Ledger) Record(id string, at time.Time, window int) Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	entries := make([]Entry, 0, min(len(l.Entries)+1, window))
	entries = append(entries, l.Entries...)
	entries = append(entries, Entry{ID: id, At: at.UTC()})

	horizon := l.Horizon
	if over := len(entries) - window; over > 0 {
		for _, e := range entries[:over] {
			if e.At.After(horizon) {
				horizon = e.At
			}
		}
		entries = slices.Clone(entries[over:])
	}
	return Ledger{Entries: entries, Horizon: horizon}
}

// Len returns the number of IDs held verbatim.
func (l Ledger) Len() int { return len(l.Entries) }

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	return Ledger{Entries: slices.Clone(l.Entries), Horizon: l.Horizon}
}
