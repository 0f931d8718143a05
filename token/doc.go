// Package token persists the access/refresh pair and computes access-token validity.
//
// Validity is never stored. [Manager.Valid] decodes the JWT and compares its exp claim against
// the injected clock plus an expiry buffer, so a token that is about to lapse is already treated
// as invalid. When verification keys are configured the signature is checked too; otherwise the
// decode is structural only, which is the normal client-side mode since the device does not hold
// the server's signing key.
package token
