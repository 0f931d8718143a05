// Package session owns the single device session record: its persistence through a
// [kv.Store], the explicit [Status] derivation, and the lifecycle operations performed by
// [Service].
//
// # Expiry
//
// Expiry is lazy. Nothing runs in the background; a persisted record whose ExpiresAt has
// passed is deleted the next time [Service.Load] reads it.
//
// # What this package must NOT do
//
//   - Hash, compare or store PINs (delegated to a [PinValidator]).
//   - Read or write token state.
//   - Let any other component write the session key directly.
package session
