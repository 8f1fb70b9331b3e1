// Package store persists the bearer credential, the cached user profile and
// the coarsened session snapshot in durable key-value storage.
//
// # Slots
//
// Four logical slots live under one namespace: [SlotToken], [SlotUser],
// [SlotCookies] and [SlotSession]. Backends ([MemoryStore], [FileStore], [RedisStore],
// [SQLiteStore]) only implement raw byte get/set/delete; [Credentials] adds
// the typed per-slot API used by the session manager.
//
// # Trust
//
// Stored values are a hint, never proof of a live session. Callers must
// re-validate presence invariants on every read.
//
// # Snapshot encoding
//
// [EncodeSnapshot] writes the current schema. [DecodeSnapshot] migrates older
// schemas forward and rejects unknown versions with [ErrMalformedSnapshot].
//
// # What this package must NOT do
//
//   - Decode tokens or make authentication decisions.
//   - Import the root dashauth package.
package store
