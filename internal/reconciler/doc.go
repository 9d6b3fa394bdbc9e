// Package reconciler owns the listening-session lifecycle and the sync
// engine that keeps the remote progress service eventually consistent with
// local listening.
//
// Sessions are append-only progress records with a single open row per user
// and item. Staleness is evaluated lazily: nothing watches the clock, the
// pause-timeout policy is applied whenever a session is next touched or when
// the periodic sweep walks the open set. A stale session always closes at its
// own last position; the close time is the moment listening stopped, not the
// moment staleness was noticed.
//
// Sync is one-way per record: sessions push local listening up, the media
// progress mirror pulls server state down. Local (downloaded) sessions push
// cumulative totals through an idempotent self-identified upsert and are
// never reset; streaming sessions push increments and zero their listening
// counter after each delivery.
package reconciler
