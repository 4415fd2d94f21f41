// Package store implements the durable persistence engine for a single JSON
// state blob: timestamped backups with bounded retention, a write-ahead log
// recording transaction intent and outcome, crash-safe atomic file
// replacement with bounded retry, and startup recovery that replays
// incomplete transactions from their referenced backups.
//
// The store exclusively owns its destination file and the backups/, wal/ and
// tmp/ directories beside it. Saves are serialized; the rename of the
// verified temp file over the destination is the atomicity boundary.
package store
