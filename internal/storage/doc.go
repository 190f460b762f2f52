// Package storage persists threads, their recipients and messages.
//
// It is the application side of the notification engine: the action router
// resolves thread ids and marks threads read through it, and incoming messages
// are written in a transaction whose commit releases the notification.
//
// Drivers:
//   - "memory": process-local maps (default; tests, console runs)
//   - "sqlite": SQLite database file via sqlx + modernc.org/sqlite
package storage
