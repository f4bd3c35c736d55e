package entity

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
)

// validateRecord checks everything reconciliation relies on, so that once
// the lock is taken nothing can fail halfway through a relation kind.
func validateRecord(rec api.UserRecord) error {
	if rec.ID <= 0 {
		return invalidf("user id %d", rec.ID)
	}
	for _, name := range rec.Groups {
		if strings.TrimSpace(name) == "" {
			return invalidf("user %d: empty group name", rec.ID)
		}
	}
	if err := validateStats(rec.ID, "hostname", rec.Hostnames); err != nil {
		return err
	}
	if err := validateStats(rec.ID, "word", rec.Words); err != nil {
		return err
	}
	pairs := make(map[AdjacencyKey]struct{}, len(rec.WordAdjacencies))
	for _, adj := range rec.WordAdjacencies {
		if adj.ProceedingID <= 0 || adj.FollowingID <= 0 {
			return invalidf("user %d: word pair %d>%d", rec.ID, adj.ProceedingID, adj.FollowingID)
		}
		if adj.SiteCount < 0 || adj.UserCount < 0 {
			return invalidf("user %d: word pair %d>%d has negative count", rec.ID, adj.ProceedingID, adj.FollowingID)
		}
		k := AdjacencyKey{Proceeding: adj.ProceedingID, Following: adj.FollowingID}
		if _, dup := pairs[k]; dup {
			return invalidf("user %d: word pair %s listed twice", rec.ID, k)
		}
		pairs[k] = struct{}{}
	}
	return nil
}

func validateStats(userID int64, kind string, stats map[string]api.SiteStat) error {
	ids := make(map[int64]string, len(stats))
	for text, st := range stats {
		if st.ID <= 0 {
			return invalidf("user %d: %s %q has id %d", userID, kind, text, st.ID)
		}
		if st.SiteCount < 0 || st.UserCount < 0 {
			return invalidf("user %d: %s %q has negative count", userID, kind, text)
		}
		if other, dup := ids[st.ID]; dup {
			return invalidf("user %d: %s id %d used by %q and %q", userID, kind, st.ID, other, text)
		}
		ids[st.ID] = text
	}
	return nil
}

// reconcileLocked overwrites u with rec. For each relation kind it links u
// to every entity present in rec (creating or updating it) and unlinks every
// entity u referenced that rec no longer mentions.
func (s *Store) reconcileLocked(u *User, rec api.UserRecord) {
	u.profile = Profile{
		ScreenName:         rec.ScreenName,
		Location:           rec.Location,
		AboutMe:            rec.AboutMe,
		WhoAmI:             rec.WhoAmI,
		WhatIWouldLikeToDo: rec.WhatIWouldLikeToDo,
		Tags:               slices.Clone(rec.Tags),
		Links:              slices.Clone(rec.Links),
		AvatarID:           rec.AvatarID,
		Created:            rec.Created,
		HadCreated:         rec.HadCreated,
		LastUpdate:         rec.LastUpdate,
		Tokens:             maps.Clone(rec.Tokens),
		NextInspection:     rec.NextInspection,
		Inspections:        rec.Inspections,
		Pending:            rec.Pending,
		URL:                rec.URL,
	}
	s.reconcileGroups(u, rec.Groups)
	s.reconcileHostnames(u, rec.Hostnames)
	s.reconcileWords(u, rec.Words)
	s.reconcileAdjacencies(u, rec.WordAdjacencies)
	s.notify(u.change())
}

func (s *Store) reconcileGroups(u *User, names []string) {
	keep := make(map[string]struct{}, len(names))
	for _, name := range names {
		g, ok := s.groups[name]
		if !ok {
			g = s.createGroup(name)
		}
		keep[name] = struct{}{}
		s.linkGroup(u, g)
	}
	for _, g := range u.groups.Values() {
		if _, ok := keep[g.name]; !ok {
			s.unlinkGroup(u, g)
		}
	}
}

func (s *Store) reconcileHostnames(u *User, stats map[string]api.SiteStat) {
	counts := make(map[int64]int, len(stats))
	for text, st := range stats {
		h := s.upsertHostname(st.ID, text, st.SiteScore, st.SiteCount)
		counts[st.ID] = st.UserCount
		s.linkHostname(u, h)
	}
	for _, h := range u.hostnames.Values() {
		if _, ok := counts[h.id]; !ok {
			s.unlinkHostname(u, h)
		}
	}
	u.hostnameCounts = counts
}

func (s *Store) reconcileWords(u *User, stats map[string]api.SiteStat) {
	counts := make(map[int64]int, len(stats))
	for text, st := range stats {
		w := s.upsertWord(st.ID, text, st.SiteScore, st.SiteCount)
		counts[st.ID] = st.UserCount
		s.linkWord(u, w)
	}
	for _, w := range u.words.Values() {
		if _, ok := counts[w.id]; !ok {
			s.unlinkWord(u, w)
		}
	}
	u.wordCounts = counts
}

func (s *Store) reconcileAdjacencies(u *User, stats []api.WordAdjacencyStat) {
	counts := make(map[AdjacencyKey]int, len(stats))
	for _, st := range stats {
		a := s.upsertAdjacency(st)
		counts[a.key] = st.UserCount
		s.linkAdjacency(u, a)
	}
	for _, a := range u.adjacencies.Values() {
		if _, ok := counts[a.key]; !ok {
			s.unlinkAdjacency(u, a)
		}
	}
	u.adjacencyCounts = counts
}

func (s *Store) upsertHostname(id int64, text string, raw float64, count int) *Hostname {
	h, ok := s.hostnames[id]
	if !ok {
		h = s.createHostname(id, text)
	} else if h.text != text {
		h.text = text
		s.notify(h.change())
	}
	s.setScoreLocked(h, raw, count)
	return h
}

func (s *Store) upsertWord(id int64, text string, raw float64, count int) *Word {
	w := s.ensureWord(id, text)
	s.setScoreLocked(w, raw, count)
	return w
}

// ensureWord returns word id, creating it unscored if absent. Adjacency
// endpoints go through here so that a pair never references a missing word.
func (s *Store) ensureWord(id int64, text string) *Word {
	w, ok := s.words[id]
	if !ok {
		return s.createWord(id, text)
	}
	if text != "" && w.text != text {
		w.text = text
		s.notify(w.change())
	}
	return w
}

func (s *Store) upsertAdjacency(st api.WordAdjacencyStat) *WordAdjacency {
	k := AdjacencyKey{Proceeding: st.ProceedingID, Following: st.FollowingID}
	a, ok := s.adjacencies[k]
	if !ok {
		proceeding := s.ensureWord(st.ProceedingID, st.Proceeding)
		following := s.ensureWord(st.FollowingID, st.Following)
		a = s.createAdjacency(k, proceeding, following)
	}
	s.setScoreLocked(a, st.SiteScore, st.SiteCount)
	return a
}

// link*/unlink* change both sides of one relation together. Adding or
// removing a scored association invalidates the user's composite score.

func (s *Store) linkGroup(u *User, g *Group) {
	if u.groups.Add(g) {
		s.notify(g.change())
		s.notify(u.change())
	}
	g.users.Add(u)
}

func (s *Store) unlinkGroup(u *User, g *Group) {
	u.groups.Remove(g)
	g.users.Remove(u)
	s.notify(g.change())
	s.notify(u.change())
}

func (s *Store) linkHostname(u *User, h *Hostname) {
	if u.hostnames.Add(h) {
		s.invalidateLocked(u)
	}
	h.users.Add(u)
}

func (s *Store) unlinkHostname(u *User, h *Hostname) {
	u.hostnames.Remove(h)
	h.users.Remove(u)
	delete(u.hostnameCounts, h.id)
	s.invalidateLocked(u)
}

func (s *Store) linkWord(u *User, w *Word) {
	if u.words.Add(w) {
		s.invalidateLocked(u)
	}
	w.users.Add(u)
}

func (s *Store) unlinkWord(u *User, w *Word) {
	u.words.Remove(w)
	w.users.Remove(u)
	delete(u.wordCounts, w.id)
	s.invalidateLocked(u)
}

func (s *Store) linkAdjacency(u *User, a *WordAdjacency) {
	if u.adjacencies.Add(a) {
		s.invalidateLocked(u)
	}
	a.users.Add(u)
}

func (s *Store) unlinkAdjacency(u *User, a *WordAdjacency) {
	u.adjacencies.Remove(a)
	a.users.Remove(u)
	delete(u.adjacencyCounts, a.key)
	s.invalidateLocked(u)
}
