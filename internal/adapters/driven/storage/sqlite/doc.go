// Package sqlite provides a SQLite-backed driven.HistoryStore.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. It persists compaction runs and tasks that exhausted
// their retries so both survive a restart.
//
// # Schema
//
// The schema is managed through versioned migrations in migrations/. Each
// migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.kbase/data/history.db
//
// # Thread Safety
//
// All operations are thread-safe. The store relies on SQLite's locking in
// WAL mode.
package sqlite
