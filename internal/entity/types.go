package entity

import (
	"fmt"
	"strconv"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
)

// Kind identifies one of the five entity collections.
type Kind string

const (
	KindUser          Kind = "user"
	KindWord          Kind = "word"
	KindWordAdjacency Kind = "word_adjacency"
	KindHostname      Kind = "hostname"
	KindGroup         Kind = "group"
)

// Action is a user's pending classification.
type Action string

const (
	// ActionNone means nothing is staged.
	ActionNone Action = "none"
	// ActionLegit stages the user as legitimate.
	ActionLegit Action = "legit"
	// ActionSuspect stages the user as a spammer.
	ActionSuspect Action = "suspect"
)

// Valid reports whether a is one of the three known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionLegit, ActionSuspect:
		return true
	}
	return false
}

// ParseAction returns the Action named s.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// AdjacencyKey identifies a WordAdjacency by its two endpoint word ids.
type AdjacencyKey struct {
	Proceeding int64
	Following  int64
}

func (k AdjacencyKey) String() string {
	return strconv.FormatInt(k.Proceeding, 10) + ">" + strconv.FormatInt(k.Following, 10)
}

// Change describes one entity whose observable state changed. Exactly one
// of ID, Pair or Name is meaningful, depending on Kind.
type Change struct {
	Kind    Kind
	ID      int64
	Pair    AdjacencyKey
	Name    string
	Removed bool
}

// Profile is the descriptive part of a user record.
type Profile struct {
	ScreenName         string
	Location           string
	AboutMe            string
	WhoAmI             string
	WhatIWouldLikeToDo string
	Tags               []string
	Links              []api.Link
	AvatarID           *int64
	Created            string
	HadCreated         string
	LastUpdate         string
	Tokens             map[string]int
	NextInspection     *string
	Inspections        int
	Pending            bool
	URL                string
}
