// Package storage implements the two-tier storage lifecycle manager.
//
// Downloaded files live under one of two OS-provided roots: the hot tier is
// durable and excluded from backups on a best-effort basis; the cold tier is
// reclaimable by the operating system under storage pressure. [Manager] moves
// files between tiers on a lazy policy sweep, pulls items back to hot
// synchronously at play time, and verifies that rows flagged as downloaded
// still exist on disk, clearing the flag when the OS has evicted them.
package storage
