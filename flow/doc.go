// Package flow drives the sign-in, sign-up and forgot-PIN state machines.
//
// No step pointer is ever stored. Every transition rebuilds a [Ctx] from the session, PIN and
// token stores plus the caller-held [StepData], then scans the flow's step table in order and
// selects the first step whose condition holds. Table order is therefore priority: when two
// conditions are true the lower index wins.
//
// # Handlers
//
// Each [Step] has exactly one [Handler]. [NewRegistry] refuses to build unless every step is
// covered, so a new step cannot silently fall through. User-actionable failures (wrong OTP,
// wrong PIN, bad input) come back as a [Rejection] on the [Transition]; network and storage
// failures are returned as errors.
//
// A handler runs only when its step takes a payload in the freshly built context; anything
// else fails with [ErrStepNotPending]. OTP steps keep taking codes until their identity is
// verified, so a lapsed code is reported rather than refused.
//
// # What this package must NOT do
//
//   - Persist StepData. It belongs to the caller for the lifetime of one flow instance.
//   - Retry auth service calls. Retry policy lives in package transport.
package flow
