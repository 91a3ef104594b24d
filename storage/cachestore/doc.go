// Package cachestore implements storage.Store on a SQL table through GORM.
//
// The DSN picks the driver: a postgres:// URL (or key/value DSN) uses
// gorm.io/driver/postgres, anything else is treated as a SQLite path and
// opened with the pure-Go github.com/glebarez/sqlite driver. ":memory:" gives
// a private in-memory database, which the tests use.
//
// Entries live in the cache_entries table:
//
//	key         text primary key
//	value       text (JSON)
//	expires_at  bigint null, indexed (unix ms)
//	created_at  bigint (unix ms)
//
// Put is an upsert (ON CONFLICT (key) DO UPDATE). Get ignores expired rows;
// PurgeExpired deletes them and returns the count so the caller can record
// evictions.
//
// SQL statements are logged through slog: failures at error, statements
// slower than SlowQueryThreshold at warn.
package cachestore
