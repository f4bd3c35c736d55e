// Package classify stages reviewer decisions and commits them to the
// moderation API.
//
// Stage records a pending action for a user, both on the entity and in the
// pending Index. CommitAll snapshots the index and runs one flow per user:
//
//	POST /classify/{id} → GET /user/{id} → Store.UpdateUser → cooldown → unstage, drop from view
//
// Flows run concurrently with all-settle semantics; a failure keeps its user
// staged and is reported in the Summary without touching its siblings. A
// user already committing is skipped by an overlapping CommitAll, so no
// user ever has two submissions outstanding.
package classify
