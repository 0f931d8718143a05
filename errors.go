package pinflow

import "errors"

var (
	// ErrConfig wraps every configuration validation failure.
	ErrConfig = errors.New("invalid pinflow configuration")
	// ErrEngineNotReady is returned by Engine methods on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrSessionExpired is returned when the token refresh failed and the user must sign in again.
	ErrSessionExpired = errors.New("session expired, please sign in again")
	// ErrBuilderUsed is returned when Build is called twice on the same Builder.
	ErrBuilderUsed = errors.New("builder already used")
)
