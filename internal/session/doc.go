// Package session persists what a reviewer needs to resume work: the
// active source with its cursor window, and staged classifications.
//
// State round-trips through URL query or fragment parameters (source,
// oldest_uid, newest_uid) so a reloaded page resumes the same window.
// SQLiteStore keeps the same state, plus staged actions, in a sqlite file
// for the command line tool.
package session
