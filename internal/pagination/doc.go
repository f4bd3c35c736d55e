// Package pagination walks a server-filtered user feed in both directions
// and merges each page into an entity.Store.
//
// The Controller tracks a cursor Window, the oldest and newest user ids
// materialized from the active source. Fetch(Older) asks for users strictly
// before the oldest, Fetch(Newer) for users strictly after the newest, and
// Fetch(Reset) refetches the whole window, recomputing both bounds from the
// result.
//
//	           older                          newer
//	  ◄──────────────────── [oldest … newest] ────────────────────►
//	  before_user_id=oldest                  after_user_id=newest
//	  order=desc                             order=asc, reversed on merge
//
// Only one fetch runs at a time. Switching source bumps a generation
// counter, so a fetch that completes afterwards is discarded with ErrStale.
// A transport failure leaves the store untouched and starts a cooldown
// during which fetches fail with ErrCoolingDown.
//
// Users pending review with no scored signal are hidden from Visible. When
// a whole page is hidden the controller reads further pages itself, so an
// empty result means the server had nothing more, never that the filter
// swallowed a page.
//
// Poller drives Fetch on a ticker for unattended sessions.
package pagination
