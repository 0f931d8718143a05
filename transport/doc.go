// Package transport attaches bearer tokens to outbound requests and recovers from 401/403 by
// refreshing exactly once per stale token, no matter how many requests fail concurrently.
//
// # Flow
//
//	Idle ──401/403──▶ Refreshing ──ok──▶ Idle (callers retry after RetryDelay)
//	                      │
//	                      └─fail──▶ Idle (every waiter gets ErrRefreshFailed, OnRefreshFailure runs once)
//
// A request that observes an already-rotated token retries with it directly instead of
// refreshing again. A failed refresh is remembered against the stale token it was started
// for, so requests still holding that token fail fast instead of starting a second cycle.
// Retries are bounded by MaxRetries; requests whose body cannot be replayed
// (no GetBody) are never retried.
//
// # What this package must NOT do
//
//   - Hold credentials in package-level state. A [Credentials] value is created explicitly and
//     passed to each [Transport].
//   - Refresh through itself. The [Refresher] must use an unauthenticated client.
package transport
