// Package stores provides the persistence layer for converge: the checksum
// memoization store consulted across runs, cached host facts, and the
// append-only record of runs and the events they emitted. SQLite (WAL mode,
// embedded migrations), a single YAML state file, and an in-memory store are
// provided behind the same Store interface.
package stores
