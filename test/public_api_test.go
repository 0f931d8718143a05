package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/MrEthical07/pinflow"
	"github.com/MrEthical07/pinflow/flow"
	"github.com/MrEthical07/pinflow/pin"
	"github.com/MrEthical07/pinflow/session"
)

// Guards the public API compile surface for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = pinflow.New
	_ = pinflow.LoadConfigFromEnv

	var _ *pinflow.Engine
	var _ pinflow.Config
	var _ pinflow.AuditSink
	var _ pinflow.MetricsSnapshot
	var _ flow.Transition
	var _ flow.Instance
	var _ session.PinSessionResult

	var _ error = pinflow.ErrConfig
	var _ error = pinflow.ErrEngineNotReady
	var _ error = pinflow.ErrSessionExpired
	var _ error = flow.ErrUnknownType
	var _ error = flow.ErrIndexOutOfRange
	var _ error = pin.ErrNotSet

	var _ func(*pinflow.Engine, context.Context, flow.Type, flow.StepData) (flow.Instance, error) = (*pinflow.Engine).InitiateFlow
	var _ func(*pinflow.Engine, context.Context, []flow.FlowStep, int, flow.StepData, flow.Payload) (flow.Transition, error) = (*pinflow.Engine).DetermineNextStep
	var _ func(*pinflow.Engine, context.Context, string) session.PinSessionResult = (*pinflow.Engine).ValidatePinAndCreateSession
	var _ func(*pinflow.Engine, context.Context) (session.Status, error) = (*pinflow.Engine).SessionStatus
	var _ func(*pinflow.Engine, context.Context, bool) error = (*pinflow.Engine).Logout
	var _ func(*pinflow.Engine) *http.Client = (*pinflow.Engine).HTTPClient
}
