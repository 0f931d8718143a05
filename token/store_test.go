package token

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/pinflow/kv"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	s := NewStore(mem, "dev")

	p, err := s.Load(ctx)
	if err != nil || !p.Empty() {
		t.Fatalf("expected empty pair, got %+v err=%v", p, err)
	}

	if err := s.Save(ctx, Pair{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if v, _ := mem.Get(ctx, "dev:token:access"); v != "a1" {
		t.Fatalf("access key = %q", v)
	}
	p, _ = s.Load(ctx)
	if p.AccessToken != "a1" || p.RefreshToken != "r1" {
		t.Fatalf("unexpected pair %+v", p)
	}

	if err := s.Save(ctx, Pair{}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if p, _ = s.Load(ctx); !p.Empty() || p.RefreshToken != "" {
		t.Fatalf("expected cleared pair, got %+v", p)
	}

	mem.Fail(errors.New("down"))
	if _, err := s.Load(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
