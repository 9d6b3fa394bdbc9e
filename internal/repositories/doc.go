// Package repositories provides the sqlite persistence layer for the sync core.
//
// [SessionRepository] is the exclusive writer of listening-session rows,
// [DownloadRepository] owns per-file download records, and
// [ProgressRepository] holds the local mirror of server media progress.
// Every mutator refreshes updated_at; component liveness is inferred from
// updated_at, there is no separate heartbeat.
package repositories
