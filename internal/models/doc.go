// Package models defines the domain entities for the audiobook sync core.
//
// Three families of state live here:
//
//  1. Local truth: [ListeningSession] rows written only by the session store,
//     and [DownloadRecord] rows tracking per-file download state and storage tier.
//  2. Remote mirror: [MediaProgress], a cache of the server's per-user progress
//     record, refreshed from fetch or sync responses only.
//  3. Catalog shapes: [LibraryItem] and [AudioFile], the file sets the download
//     manager resolves and the playback coordinator classifies.
//
// Entities are plain structs; persistence lives in the repositories package.
package models
