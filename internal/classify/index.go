package classify

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
)

// Entry is one staged classification: a user and the action it awaits.
//
// Entries are values; the index hands out copies, so holding an Entry
// never pins the index state.
type Entry struct {
	// User is the canonical store instance at the time it was staged.
	User *entity.User

	// Action is ActionLegit or ActionSuspect. ActionNone is never stored;
	// staging none removes the entry instead.
	Action entity.Action
}

// ID returns the staged user's id.
func (e Entry) ID() int64 { return e.User.ID() }

// Index is the pending index: staged users keyed by id.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│               Index                 │
//	├─────────────────────────────────────┤
//	│  entries: map[userID]→Entry         │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  Stage ─► Put / Delete              │
//	│  CommitAll ─► Snapshot              │
//	│  settle ─► DeleteIf(id, action)     │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - Snapshot copies entries, so a commit in progress never observes
//     later stages
type Index struct {
	// entries maps user ids to their staged entry.
	entries map[int64]Entry

	mu sync.RWMutex
}

// NewIndex creates an empty pending index.
func NewIndex() *Index {
	return &Index{entries: make(map[int64]Entry)}
}

// Put stages e, replacing any entry for the same user. It reports whether
// the index changed.
func (x *Index) Put(e Entry) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if cur, ok := x.entries[e.ID()]; ok && cur == e {
		return false
	}
	x.entries[e.ID()] = e
	return true
}

// Delete unstages id. It reports whether an entry was removed.
func (x *Index) Delete(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.entries[id]; !ok {
		return false
	}
	delete(x.entries, id)
	return true
}

// DeleteIf unstages id only while it is still staged with action. A user
// restaged with another action during its commit stays in the index.
func (x *Index) DeleteIf(id int64, action entity.Action) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	cur, ok := x.entries[id]
	if !ok || cur.Action != action {
		return false
	}
	delete(x.entries, id)
	return true
}

// Get returns the entry staged for id.
func (x *Index) Get(id int64) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	return e, ok
}

// Len returns the number of staged users.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Snapshot returns a copy of every entry in ascending user id order.
func (x *Index) Snapshot() []Entry {
	x.mu.RLock()
	out := make([]Entry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	x.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}
