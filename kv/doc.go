// Package kv defines the secure key-value primitive every persistent pinflow record is stored
// through, plus the concrete backends shipped with the module.
//
// # Backends
//
//   - [RedisStore] for hosts that keep device state in a local or sidecar Redis.
//   - [MemoryStore] for tests and ephemeral processes.
//   - [Sealed] wraps any Store and encrypts values at rest with XChaCha20-Poly1305.
//
// # What this package must NOT do
//
//   - Interpret stored values (sessions, PIN records and tokens are opaque strings here).
//   - Expire keys on its own; time-based validity is evaluated lazily by the owning service.
package kv
