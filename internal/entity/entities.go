package entity

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// scoreState is the accumulated (score, count) pair of a scored entity and
// its derived normalized score.
type scoreState struct {
	score      float64
	count      int
	normalized float64
}

// Scored is implemented by the entities that contribute to a user's
// composite score: *Word, *WordAdjacency and *Hostname.
type Scored interface {
	Kind() Kind
	// Score returns the accumulated raw score and observation count.
	Score() (score float64, count int)
	// Normalized returns the derived normalized score.
	Normalized() float64

	state() *scoreState
	backSet() *RelationSet[int64, *User]
	change() Change
}

// User is a platform account under review. Its id is immutable; everything
// else is overwritten by reconciliation with fresh server records.
type User struct {
	id int64
	s  *Store

	profile     Profile
	groups      *RelationSet[string, *Group]
	hostnames   *RelationSet[int64, *Hostname]
	words       *RelationSet[int64, *Word]
	adjacencies *RelationSet[AdjacencyKey, *WordAdjacency]

	// observed occurrences of each related entity in this user's profile
	hostnameCounts  map[int64]int
	wordCounts      map[int64]int
	adjacencyCounts map[AdjacencyKey]int

	composite      float64
	compositeValid bool
	pending        Action
}

// ID returns the user's immutable id.
func (u *User) ID() int64 { return u.id }

// Profile returns a copy of the user's descriptive attributes.
func (u *User) Profile() Profile {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	p := u.profile
	p.Tags = slices.Clone(p.Tags)
	p.Links = slices.Clone(p.Links)
	p.Tokens = maps.Clone(p.Tokens)
	return p
}

// Groups returns the groups the user belongs to.
func (u *User) Groups() []*Group {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.groups.Values()
}

// InGroup reports whether the user is a member of the named group.
func (u *User) InGroup(name string) bool {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	g, ok := u.s.groups[name]
	return ok && u.groups.Contains(g)
}

// Hostnames returns the hostnames linked from the user's profile.
func (u *User) Hostnames() []*Hostname {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.hostnames.Values()
}

// Words returns the words used in the user's profile.
func (u *User) Words() []*Word {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.words.Values()
}

// WordAdjacencies returns the word pairs used in the user's profile.
func (u *User) WordAdjacencies() []*WordAdjacency {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.adjacencies.Values()
}

// HostnameCount is how often the user's profile referenced hostname id.
func (u *User) HostnameCount(id int64) int {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.hostnameCounts[id]
}

// WordCount is how often the user's profile used word id.
func (u *User) WordCount(id int64) int {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.wordCounts[id]
}

// AdjacencyCount is how often the user's profile used the word pair k.
func (u *User) AdjacencyCount(k AdjacencyKey) int {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.adjacencyCounts[k]
}

// HasSignal reports whether any scored entity is associated with the user.
func (u *User) HasSignal() bool {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.hasSignalLocked()
}

func (u *User) hasSignalLocked() bool {
	return len(u.hostnames.Values()) > 0 || len(u.words.Values()) > 0 || len(u.adjacencies.Values()) > 0
}

// PendingAction returns the user's staged classification.
func (u *User) PendingAction() Action {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.pending
}

// CompositeScore returns the user's memoized composite score.
func (u *User) CompositeScore() float64 {
	return u.s.CompositeScore(u)
}

func (u *User) change() Change { return Change{Kind: KindUser, ID: u.id} }

// Word is a token seen in user profiles.
type Word struct {
	id int64
	s  *Store
	scoreState

	text        string
	users       *RelationSet[int64, *User]
	adjacencies *RelationSet[AdjacencyKey, *WordAdjacency]
}

func (w *Word) ID() int64 { return w.id }
func (w *Word) Kind() Kind { return KindWord }

// Text returns the word as the server spells it.
func (w *Word) Text() string {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	return w.text
}

func (w *Word) Score() (float64, int) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	return w.score, w.count
}

func (w *Word) Normalized() float64 {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	return w.normalized
}

// Users returns the users whose profiles use this word.
func (w *Word) Users() []*User {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.users.Values()
}

// Adjacencies returns the word pairs this word takes part in.
func (w *Word) Adjacencies() []*WordAdjacency {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.adjacencies.Values()
}

func (w *Word) state() *scoreState { return &w.scoreState }
func (w *Word) backSet() *RelationSet[int64, *User] { return w.users }
func (w *Word) change() Change { return Change{Kind: KindWord, ID: w.id} }

// WordAdjacency is an ordered pair of words seen next to each other.
type WordAdjacency struct {
	key AdjacencyKey
	s   *Store
	scoreState

	proceeding *Word
	following  *Word
	users      *RelationSet[int64, *User]
}

func (a *WordAdjacency) Key() AdjacencyKey { return a.key }
func (a *WordAdjacency) Kind() Kind { return KindWordAdjacency }
func (a *WordAdjacency) Proceeding() *Word { return a.proceeding }
func (a *WordAdjacency) Following() *Word { return a.following }

func (a *WordAdjacency) Score() (float64, int) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.score, a.count
}

func (a *WordAdjacency) Normalized() float64 {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return a.normalized
}

// Users returns the users whose profiles use this word pair.
func (a *WordAdjacency) Users() []*User {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.users.Values()
}

func (a *WordAdjacency) state() *scoreState { return &a.scoreState }
func (a *WordAdjacency) backSet() *RelationSet[int64, *User] { return a.users }
func (a *WordAdjacency) change() Change {
	return Change{Kind: KindWordAdjacency, Pair: a.key}
}

// Hostname is a host linked from user profiles.
type Hostname struct {
	id int64
	s  *Store
	scoreState

	text  string
	users *RelationSet[int64, *User]
}

func (h *Hostname) ID() int64 { return h.id }
func (h *Hostname) Kind() Kind { return KindHostname }

// Text returns the hostname as the server spells it.
func (h *Hostname) Text() string {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return h.text
}

func (h *Hostname) Score() (float64, int) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return h.score, h.count
}

func (h *Hostname) Normalized() float64 {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return h.normalized
}

// Users returns the users linking to this hostname.
func (h *Hostname) Users() []*User {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.users.Values()
}

func (h *Hostname) state() *scoreState { return &h.scoreState }
func (h *Hostname) backSet() *RelationSet[int64, *User] { return h.users }
func (h *Hostname) change() Change { return Change{Kind: KindHostname, ID: h.id} }

// Group is a named set of users, e.g. "legit" or "auto_suspect".
type Group struct {
	name  string
	s     *Store
	users *RelationSet[int64, *User]
}

func (g *Group) Name() string { return g.name }

// Users returns the group's members.
func (g *Group) Users() []*User {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.users.Values()
}

func (g *Group) change() Change { return Change{Kind: KindGroup, Name: g.name} }
