// Package storage persists import history and the dedup index.
//
// Drivers:
//   - file: JSON Lines journals with a compacted dedup snapshot
//   - sqlite: a single database file, built with -tags sqlite
package storage
