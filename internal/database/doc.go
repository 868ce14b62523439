// Package database provides SQLite persistence for the media extractor.
//
// It stores two kinds of records:
//   - Jobs: one row per extraction request, including the transform
//     parameters, lifecycle status, progress and the produced artifact
//   - Dedup locks: at most one row per source identity, naming the job that
//     currently owns work for that source and when the claim lapses
//
// A small key/value metadata table holds process bookkeeping such as when
// the cleanup sweep last ran.
//
// Status changes are conditional updates (WHERE status IN ...), so a write
// only lands if the job is still in the state the caller expects. A late
// worker event therefore cannot overwrite a job that has already reached a
// terminal state or been expired by the cleanup sweep.
//
// The database runs in WAL mode. Writes are serialized by an in-process
// lock; reads observe every committed write (read-your-writes).
package database
