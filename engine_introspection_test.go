package pinflow

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/transport"
)

func TestHealthReportsStorageAndBreaker(t *testing.T) {
	h := newHarness(t)

	status := h.engine.Health(context.Background())
	if !status.StorageAvailable {
		t.Fatal("expected storage available")
	}
	if status.RefreshState != transport.StateIdle {
		t.Fatalf("expected idle transport, got %s", status.RefreshState)
	}
	if status.AuthBreaker != "closed" {
		t.Fatalf("expected closed breaker, got %q", status.AuthBreaker)
	}

	h.redis.Close()
	if h.engine.Health(context.Background()).StorageAvailable {
		t.Fatal("expected storage unavailable after redis stopped")
	}
}

func TestHealthWithFailingStore(t *testing.T) {
	cfg := testConfig()
	cfg.AuthAPI.BaseURL = "http://127.0.0.1:1"
	mem := kv.NewMemoryStore()
	e, err := New().WithConfig(cfg).WithStore(mem).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	mem.Fail(errors.New("disk full"))
	if e.Health(context.Background()).StorageAvailable {
		t.Fatal("expected storage unavailable")
	}

	var nilEngine *Engine
	if nilEngine.Health(context.Background()).StorageAvailable {
		t.Fatal("nil engine should report nothing available")
	}
}
