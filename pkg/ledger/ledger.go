// Package ledger records the hook parameters requested during a session.
package ledger

import (
	"iter"

	"github.com/piehook/piectl/pkg/hook"
)

// Entry is one requested hook parameter.
type Entry struct {
	Kind  hook.Kind
	Value uint64
}

// Ledger is an append-only list of entries, newest first. Repeated kinds
// are kept as separate entries.
type Ledger struct {
	// entries is stored oldest first, All walks it backwards.
	entries []Entry
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records value for kind ahead of every existing entry.
func (l *Ledger) Append(kind hook.Kind, value uint64) {
	l.entries = append(l.entries, Entry{Kind: kind, Value: value})
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// All returns an iterator over the entries, most recently appended first.
// The iterator can be used more than once.
func (l *Ledger) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := len(l.entries) - 1; i >= 0; i-- {
			if !yield(l.entries[i]) {
				return
			}
		}
	}
}
