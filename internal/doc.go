// Package internal holds helpers private to pinflow: secure random generation and the
// device fingerprint.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch (Dispatcher and Sink implementations)
//   - authtest: in-process fake of the remote auth service
//   - security: configuration posture report
package internal
