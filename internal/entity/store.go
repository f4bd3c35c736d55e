package entity

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/score"
)

// Store owns the five canonical entity collections of one moderation
// session. Every relation between entities is bidirectional and is changed
// only through Store methods, each of which leaves both sides consistent
// before releasing the lock.
//
// Thread-safe: all methods, and the accessor methods of the entities the
// store hands out, are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	users       map[int64]*User
	words       map[int64]*Word
	adjacencies map[AdjacencyKey]*WordAdjacency
	hostnames   map[int64]*Hostname
	groups      map[string]*Group

	onChange func(Change)
	changes  []Change
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[int64]*User),
		words:       make(map[int64]*Word),
		adjacencies: make(map[AdjacencyKey]*WordAdjacency),
		hostnames:   make(map[int64]*Hostname),
		groups:      make(map[string]*Group),
	}
}

// SetOnChange registers the observer notified of entity changes. Changes are
// delivered after the store lock is released, in the order they happened,
// with duplicates within one operation collapsed.
//
// Example:
//
//	store.SetOnChange(func(c entity.Change) {
//	    if c.Kind == entity.KindUser {
//	        view.Redraw(c.ID)
//	    }
//	})
func (s *Store) SetOnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// unlock releases the write lock and then dispatches the changes queued
// while it was held.
func (s *Store) unlock() {
	changes, fn := s.changes, s.onChange
	s.changes = nil
	s.mu.Unlock()
	if fn == nil {
		return
	}
	seen := make(map[Change]struct{}, len(changes))
	for _, c := range changes {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		fn(c)
	}
}

func (s *Store) notify(c Change) {
	s.changes = append(s.changes, c)
}

// User returns the user with the given id.
func (s *Store) User(id int64) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Word returns the word with the given id.
func (s *Store) Word(id int64) (*Word, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.words[id]
	return w, ok
}

// WordAdjacency returns the word pair with the given key.
func (s *Store) WordAdjacency(k AdjacencyKey) (*WordAdjacency, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adjacencies[k]
	return a, ok
}

// Hostname returns the hostname with the given id.
func (s *Store) Hostname(id int64) (*Hostname, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hostnames[id]
	return h, ok
}

// Group returns the named group.
func (s *Store) Group(name string) (*Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[name]
	return g, ok
}

// Users returns every cached user ordered by ascending id.
func (s *Store) Users() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b *User) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of cached users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Stats counts the entities in each collection.
type Stats struct {
	Users           int
	Words           int
	WordAdjacencies int
	Hostnames       int
	Groups          int
}

// Stats returns the current collection sizes.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Users:           len(s.users),
		Words:           len(s.words),
		WordAdjacencies: len(s.adjacencies),
		Hostnames:       len(s.hostnames),
		Groups:          len(s.groups),
	}
}

// create* insert a fresh entity and panic if the id is already taken. Callers
// hold the write lock and go through upsert*, which only creates when absent.

func (s *Store) createUser(id int64) *User {
	if _, dup := s.users[id]; dup {
		panic(usagef("duplicate user %d", id))
	}
	u := &User{
		id:              id,
		s:               s,
		groups:          NewRelationSet(s.groups, groupKey),
		hostnames:       NewRelationSet(s.hostnames, hostnameKey),
		words:           NewRelationSet(s.words, wordKey),
		adjacencies:     NewRelationSet(s.adjacencies, adjacencyKey),
		hostnameCounts:  map[int64]int{},
		wordCounts:      map[int64]int{},
		adjacencyCounts: map[AdjacencyKey]int{},
		pending:         ActionNone,
	}
	s.users[id] = u
	return u
}

func (s *Store) createWord(id int64, text string) *Word {
	if _, dup := s.words[id]; dup {
		panic(usagef("duplicate word %d", id))
	}
	w := &Word{
		id:          id,
		s:           s,
		text:        text,
		users:       NewRelationSet(s.users, userKey),
		adjacencies: NewRelationSet(s.adjacencies, adjacencyKey),
	}
	s.words[id] = w
	return w
}

func (s *Store) createAdjacency(k AdjacencyKey, proceeding, following *Word) *WordAdjacency {
	if _, dup := s.adjacencies[k]; dup {
		panic(usagef("duplicate word adjacency %s", k))
	}
	a := &WordAdjacency{
		key:        k,
		s:          s,
		proceeding: proceeding,
		following:  following,
		users:      NewRelationSet(s.users, userKey),
	}
	s.adjacencies[k] = a
	proceeding.adjacencies.Add(a)
	following.adjacencies.Add(a)
	return a
}

func (s *Store) createHostname(id int64, text string) *Hostname {
	if _, dup := s.hostnames[id]; dup {
		panic(usagef("duplicate hostname %d", id))
	}
	h := &Hostname{
		id:    id,
		s:     s,
		text:  text,
		users: NewRelationSet(s.users, userKey),
	}
	s.hostnames[id] = h
	return h
}

func (s *Store) createGroup(name string) *Group {
	if _, dup := s.groups[name]; dup {
		panic(usagef("duplicate group %q", name))
	}
	g := &Group{
		name:  name,
		s:     s,
		users: NewRelationSet(s.users, userKey),
	}
	s.groups[name] = g
	return g
}

func userKey(u *User) int64 { return u.id }
func wordKey(w *Word) int64 { return w.id }
func adjacencyKey(a *WordAdjacency) AdjacencyKey { return a.key }
func hostnameKey(h *Hostname) int64 { return h.id }
func groupKey(g *Group) string { return g.name }

// SetPendingAction records u's staged classification. It reports whether the
// value changed. An invalid action panics with a *UsageError.
func (s *Store) SetPendingAction(u *User, a Action) bool {
	if !a.Valid() {
		panic(usagef("invalid action %q for user %d", a, u.id))
	}
	s.mu.Lock()
	defer s.unlock()
	if u.pending == a {
		return false
	}
	u.pending = a
	s.notify(u.change())
	return true
}

// UpdateScore sets an entity's raw (score, count), recomputes its normalized
// score, invalidates the composite score of every user in its back-set and
// notifies observers of the entity and those users. Propagation is one hop:
// other entities are never touched.
func (s *Store) UpdateScore(e Scored, raw float64, count int) {
	s.mu.Lock()
	defer s.unlock()
	s.setScoreLocked(e, raw, count)
}

func (s *Store) setScoreLocked(e Scored, raw float64, count int) {
	st := e.state()
	if st.score == raw && st.count == count {
		return
	}
	st.score = raw
	st.count = count
	st.normalized = score.Normalize(raw, count)
	for _, u := range e.backSet().Values() {
		s.invalidateLocked(u)
	}
	s.notify(e.change())
}

func (s *Store) invalidateLocked(u *User) {
	u.compositeValid = false
	s.notify(u.change())
}

// CompositeScore returns u's composite score: the rounded sum of the five
// lowest normalized scores among its hostnames, words and word adjacencies,
// or 0 if it has none. The value is memoized until a contributing score or
// association changes.
func (s *Store) CompositeScore(u *User) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.compositeValid {
		return u.composite
	}
	var scores []float64
	for _, h := range u.hostnames.Values() {
		scores = append(scores, h.normalized)
	}
	for _, w := range u.words.Values() {
		scores = append(scores, w.normalized)
	}
	for _, a := range u.adjacencies.Values() {
		scores = append(scores, a.normalized)
	}
	u.composite = score.Composite(scores)
	u.compositeValid = true
	return u.composite
}

// UpsertUser creates or updates the user described by rec and reconciles all
// of its relations. A record that fails validation returns ErrInvalidRecord
// and leaves the store untouched.
func (s *Store) UpsertUser(rec api.UserRecord) (*User, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.unlock()
	return s.upsertUserLocked(rec), nil
}

// ApplyPage reconciles a page of records as one unit: every record is
// validated before any is applied, so the page either merges completely or
// fails with the store untouched. Users are returned in record order.
func (s *Store) ApplyPage(recs []api.UserRecord) ([]*User, error) {
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.unlock()
	out := make([]*User, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.upsertUserLocked(rec))
	}
	return out, nil
}

// UpdateUser refreshes u from a fresh record of the same user and returns
// the canonical instance. A record for a different id is a caller defect and
// panics with a *UsageError. If u was removed from the store meanwhile,
// e.g. by a source switch, the record is dropped and u is returned detached.
func (s *Store) UpdateUser(u *User, rec api.UserRecord) (*User, error) {
	if rec.ID != u.id {
		panic(usagef("record for user %d applied to user %d", rec.ID, u.id))
	}
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.unlock()
	cur, ok := s.users[u.id]
	if !ok {
		return u, nil
	}
	s.reconcileLocked(cur, rec)
	return cur, nil
}

func (s *Store) upsertUserLocked(rec api.UserRecord) *User {
	u, ok := s.users[rec.ID]
	if !ok {
		u = s.createUser(rec.ID)
	}
	s.reconcileLocked(u, rec)
	return u
}

// RemoveUser detaches a user from every entity that references it and drops
// it from the store.
func (s *Store) RemoveUser(id int64) error {
	s.mu.Lock()
	defer s.unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	for _, g := range u.groups.Values() {
		s.unlinkGroup(u, g)
	}
	for _, h := range u.hostnames.Values() {
		s.unlinkHostname(u, h)
	}
	for _, w := range u.words.Values() {
		s.unlinkWord(u, w)
	}
	for _, a := range u.adjacencies.Values() {
		s.unlinkAdjacency(u, a)
	}
	delete(s.users, id)
	s.notify(Change{Kind: KindUser, ID: id, Removed: true})
	return nil
}

// DestroyWord removes a word, cascading to every word adjacency that
// references it. Both endpoint words and all referencing users are detached.
func (s *Store) DestroyWord(id int64) error {
	s.mu.Lock()
	defer s.unlock()
	w, ok := s.words[id]
	if !ok {
		return ErrNotFound
	}
	for _, a := range w.adjacencies.Values() {
		s.destroyAdjacencyLocked(a)
	}
	for _, u := range w.users.Values() {
		s.unlinkWord(u, w)
	}
	delete(s.words, id)
	s.notify(Change{Kind: KindWord, ID: id, Removed: true})
	return nil
}

// DestroyWordAdjacency removes a word pair, detaching its endpoint words and
// referencing users.
func (s *Store) DestroyWordAdjacency(k AdjacencyKey) error {
	s.mu.Lock()
	defer s.unlock()
	a, ok := s.adjacencies[k]
	if !ok {
		return ErrNotFound
	}
	s.destroyAdjacencyLocked(a)
	return nil
}

func (s *Store) destroyAdjacencyLocked(a *WordAdjacency) {
	a.proceeding.adjacencies.Remove(a)
	a.following.adjacencies.Remove(a)
	for _, u := range a.users.Values() {
		s.unlinkAdjacency(u, a)
	}
	delete(s.adjacencies, a.key)
	s.notify(Change{Kind: KindWordAdjacency, Pair: a.key, Removed: true})
}

// DestroyHostname removes a hostname and detaches its users.
func (s *Store) DestroyHostname(id int64) error {
	s.mu.Lock()
	defer s.unlock()
	h, ok := s.hostnames[id]
	if !ok {
		return ErrNotFound
	}
	for _, u := range h.users.Values() {
		s.unlinkHostname(u, h)
	}
	delete(s.hostnames, id)
	s.notify(Change{Kind: KindHostname, ID: id, Removed: true})
	return nil
}

// DestroyGroup removes a group and detaches its members.
func (s *Store) DestroyGroup(name string) error {
	s.mu.Lock()
	defer s.unlock()
	g, ok := s.groups[name]
	if !ok {
		return ErrNotFound
	}
	for _, u := range g.users.Values() {
		s.unlinkGroup(u, g)
	}
	delete(s.groups, name)
	s.notify(Change{Kind: KindGroup, Name: name, Removed: true})
	return nil
}
