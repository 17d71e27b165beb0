// Package redis implements store.Store on top of go-redis/v9. Jobs,
// recurring definitions, DLQ entries, and server announcements are each
// stored as a single JSON blob under their own key, with Redis Sets and
// Sorted Sets maintained alongside as secondary indices (per-state job
// queues scored by State.At(), ID enumeration sets for recurring/DLQ/
// roster rows).
//
// Save and SaveBatch enforce the same Version contract the Postgres
// backend enforces with a conditional UPDATE, using go-redis's
// WATCH/MULTI optimistic-locking pattern: the current blob is read
// inside a watched transaction, its Version is compared against the
// caller's, and the transaction is retried if another writer touched
// the same key in between.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
