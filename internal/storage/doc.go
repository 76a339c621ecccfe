// Package storage persists reminder tasks.
//
// Two backends are available:
//   - "sqlite": a single SQLite database file (pure Go driver)
//   - "file": an append-only JSON Lines journal compacted into a snapshot
//
// Both satisfy reminder.TaskStore. Each call is its own atomic unit; there
// are no multi-call transactions.
package storage
