// Package storage persists what the bot remembers across restarts: the
// display names it has seen for each user, and an append-only log of
// moderator actions.
//
// Drivers:
//   - "file": JSON lines journal plus snapshot, no external service
//   - "sqlite": modernc.org/sqlite through sqlx
//   - "postgres": lib/pq through sqlx
//   - "redis": go-redis hash for users, capped list for the audit log
//
// An empty driver or "none" disables persistence.
package storage
