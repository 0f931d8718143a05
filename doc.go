// Package pinflow drives client-side sign-in, sign-up and forgot-PIN flows and enforces
// device session security: a time-boxed session unlocked by a local PIN with attempt
// lockout, plus an HTTP transport that refreshes expired access tokens exactly once per
// burst of rejected requests.
//
// The package is the composition root. [Builder] wires storage, the auth service client,
// the PIN hasher and the refresh transport into an [Engine]; every Engine method is safe
// for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// pinflow is the public surface. Flow tables and step handlers live in package flow,
// persistence in kv, session, pin and token, the network side in authapi and transport.
// Audit dispatch lives under internal/ and is never exported directly.
//
// # What this package must NOT do
//
//   - Log or persist PINs, OTP codes or raw tokens.
//   - Perform I/O during Builder configuration; storage is first touched by Engine methods.
//   - Import any sub-package that re-imports pinflow.
package pinflow
