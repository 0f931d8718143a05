// Package authapi is the client for the remote auth service: OTP send/verify, token acquisition,
// token refresh and logout.
//
// Every response body is an [Envelope]. Transport failures and 5xx responses count against a
// circuit breaker; business errors (4xx or a non-empty error field) are returned as [*Error] and
// never retried here. OTP resends are throttled client-side per medium and value.
package authapi
