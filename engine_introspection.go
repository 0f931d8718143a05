package pinflow

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/transport"
	"github.com/sony/gobreaker/v2"
)

// HealthStatus is an on-demand dependency health result.
type HealthStatus struct {
	StorageAvailable bool
	StorageLatency   time.Duration
	RefreshState     transport.State
	// AuthBreaker is empty when the auth service is not the built-in HTTP client.
	AuthBreaker string
}

type breakerReporter interface {
	BreakerState() gobreaker.State
}

// Health probes storage with a read of an unused key and reports refresh and circuit
// breaker state. It does not mutate anything.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e.ready() != nil {
		return HealthStatus{}
	}

	start := e.clock.Now()
	_, err := e.store.Get(ctx, kv.Key(e.config.Storage.KeyPrefix, "health"))
	status := HealthStatus{
		StorageAvailable: err == nil || errors.Is(err, kv.ErrNotFound),
		StorageLatency:   e.clock.Since(start),
		RefreshState:     e.transport.State(),
	}
	if br, ok := e.auth.(breakerReporter); ok {
		status.AuthBreaker = br.BreakerState().String()
	}
	return status
}
