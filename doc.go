// Package picocash is the client-side engine of the picocash
// micropayment scheme. It lets an application earn, store, and spend
// opaque tokens against a remote ledger server to buy ephemeral
// entitlements, without exposing user identity.
//
// The engine owns all local state: tokens, balance, purchases, and
// derived authorizations, persisted in a SQLite datastore under a
// caller-provided directory. Network access goes exclusively through a
// caller-supplied RequesterFunc; the engine never opens sockets itself.
//
// All state-mutating operations on a Client are serialized by an
// internal per-instance mutex. Read-only accessors may be called
// concurrently with writers and observe fully committed state only.
package picocash
