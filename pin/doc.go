// Package pin implements local PIN brute-force protection: a hashed PIN record, a bounded
// attempt counter and a lockout window, all persisted through a [kv.Store].
//
// # Lockout algorithm
//
// While a lockout window is open, [Service.Validate] refuses without comparing hashes. A
// mismatch increments the counter (capped at the configured maximum); reaching the cap opens a
// new window. A match, [Service.Set] or [Service.Change] resets the counter. Validation calls
// are serialized, so two concurrent wrong guesses can never both slip under the cap.
//
// # What this package must NOT do
//
//   - Persist or log a plaintext PIN.
//   - Create sessions (package session composes validation with session creation).
package pin
