// Package storage keeps the delivery journal: one record per notification
// the relay tried to send, with its outcome.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// The journal is write-mostly. It is not consulted for deduplication and it
// is never replayed into the pipeline.
package storage
