// Package entity is the normalized in-memory cache behind a moderation
// session: users under review and the words, word pairs, hostnames and
// groups their profiles reference.
//
// # Overview
//
// Every entity kind lives in exactly one canonical collection inside a
// Store, keyed by its id (word pairs by their two word ids, groups by name).
// Relations between kinds are bidirectional: a user's word set and that
// word's user set always agree, because both sides are changed together by
// one Store method under one lock.
//
//	┌──────────┐  words        users  ┌──────────┐
//	│   User   │◄────────────────────►│   Word   │
//	│          │  hostnames           └────┬─────┘
//	│          │◄──────────┐   adjacencies │ proceeding/following
//	│          │           ▼               ▼
//	│          │     ┌──────────┐   ┌───────────────┐
//	│          │     │ Hostname │   │ WordAdjacency │
//	│          │     └──────────┘   └───────────────┘
//	│          │  groups   ┌───────┐
//	│          │◄─────────►│ Group │
//	└──────────┘           └───────┘
//
// # Reconciliation
//
// Server records are merged with UpsertUser, ApplyPage or UpdateUser. For
// each relation kind the store links the user to every entity in the record
// (creating it on first sight) and unlinks every entity the record no longer
// mentions. Records are validated before the lock is taken; a malformed
// record returns ErrInvalidRecord and leaves the store untouched, and
// ApplyPage extends that guarantee to a whole page.
//
// # Scores
//
// Words, word pairs and hostnames carry a raw (score, count) pair and the
// normalized score derived from it. A user's composite score is the rounded
// sum of the five lowest normalized scores among its associations. It is
// memoized and invalidated whenever a contributing score or association
// changes.
//
// # Notifications
//
// SetOnChange registers one observer. Changes queued during an operation are
// delivered after the store lock is released, so an observer may call back
// into the store.
//
// # Usage errors
//
// Creating a duplicate entity, updating a user with another user's record
// and staging an unknown action are caller defects. They panic with a
// *UsageError.
package entity
