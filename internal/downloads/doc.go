// Package downloads implements the resumable multi-file download manager.
//
// [Manager] orchestrates per-item downloads: it resolves an item's file set,
// enqueues one resumable task per file on a [Scheduler], and aggregates byte
// and file progress with a smoothed throughput estimate. Task completion
// events are keyed by opaque task IDs and routed through a single update
// function over a task-indexed map; callbacks never capture task state by
// reference.
//
// [HTTPScheduler] is the built-in transfer backend: ranged HTTP downloads into
// .part files with a JSON journal, so tasks survive process restarts and can
// be reattached via [Manager.RestoreExistingDownloads].
package downloads
