package pin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/pinhash"
	"github.com/jonboulle/clockwork"
)

type plainHasher struct {
	policy   pinhash.Policy
	verifies atomic.Int64
}

func (h *plainHasher) Hash(pin string) (string, error) {
	if err := h.policy.Check(pin); err != nil {
		return "", err
	}
	return "plain$" + pin, nil
}

func (h *plainHasher) Verify(pin, encoded string) (bool, error) {
	h.verifies.Add(1)
	stored, ok := strings.CutPrefix(encoded, "plain$")
	if !ok {
		return false, errors.New("bad encoding")
	}
	return stored == pin, nil
}

type fixture struct {
	svc    *Service
	kv     *kv.MemoryStore
	clock  *clockwork.FakeClock
	hasher *plainHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := kv.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	hasher := &plainHasher{policy: pinhash.Policy{MinLength: 4, MaxLength: 6}}
	svc, err := NewService(NewStore(mem, "test"), Options{
		MaxAttempts:  5,
		LockDuration: 5 * time.Minute,
		Hasher:       hasher,
		Clock:        clock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, kv: mem, clock: clock, hasher: hasher}
}

func TestValidateNotSet(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Validate(context.Background(), "1234"); !errors.Is(err, ErrNotSet) {
		t.Fatalf("expected ErrNotSet, got %v", err)
	}
}

func TestValidateCountsDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.Set(ctx, "1234"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	for want := 4; want >= 1; want-- {
		res, err := f.svc.Validate(ctx, "0000")
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if res.Valid || res.Locked || res.AttemptsRemaining != want {
			t.Fatalf("expected %d remaining, got %+v", want, res)
		}
	}

	res, err := f.svc.Validate(ctx, "1234")
	if err != nil || !res.Valid || res.AttemptsRemaining != 5 {
		t.Fatalf("expected success with reset counter, got %+v err=%v", res, err)
	}
	if v, _ := f.kv.Get(ctx, "test:pin:attempts"); v != "" {
		t.Fatalf("expected attempts cleared, got %q", v)
	}
}

func TestLockoutSkipsComparison(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")

	var last Result
	for i := 0; i < 5; i++ {
		last, _ = f.svc.Validate(ctx, "0000")
	}
	if !last.Locked || last.LockUntil == nil {
		t.Fatalf("expected lock after 5 failures, got %+v", last)
	}
	wantUntil := f.clock.Now().Add(5 * time.Minute)
	if !last.LockUntil.Equal(wantUntil) {
		t.Fatalf("lock until = %v, want %v", last.LockUntil, wantUntil)
	}

	before := f.hasher.verifies.Load()
	res, err := f.svc.Validate(ctx, "1234")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid || !res.Locked {
		t.Fatalf("correct pin must be refused while locked, got %+v", res)
	}
	if f.hasher.verifies.Load() != before {
		t.Fatal("hash comparison ran while locked")
	}
}

func TestLockWindowElapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")
	for i := 0; i < 5; i++ {
		_, _ = f.svc.Validate(ctx, "0000")
	}

	f.clock.Advance(5*time.Minute + time.Millisecond)

	res, err := f.svc.Validate(ctx, "0000")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Locked {
		t.Fatalf("counter stays at cap, expected immediate re-lock, got %+v", res)
	}

	f.clock.Advance(5*time.Minute + time.Millisecond)
	res, err = f.svc.Validate(ctx, "1234")
	if err != nil || !res.Valid {
		t.Fatalf("expected success after window, got %+v err=%v", res, err)
	}
}

func TestConcurrentValidationRespectsCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Validate(ctx, "9999")
		}()
	}
	wg.Wait()

	if got := f.hasher.verifies.Load(); got != 5 {
		t.Fatalf("expected exactly 5 comparisons before lock, got %d", got)
	}
	v, _ := f.kv.Get(ctx, "test:pin:attempts")
	if v != "5" {
		t.Fatalf("attempts = %q, want 5", v)
	}
}

func TestSetRejectsPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, bad := range []string{"12", "1234567", "12a4"} {
		if err := f.svc.Set(ctx, bad); !errors.Is(err, ErrPolicy) {
			t.Fatalf("Set(%q) expected ErrPolicy, got %v", bad, err)
		}
	}
	if ok, _ := f.svc.IsSet(ctx); ok {
		t.Fatal("rejected pin must not be stored")
	}
}

func TestChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")

	res, err := f.svc.Change(ctx, "0000", "5678")
	if !errors.Is(err, ErrMismatch) || res.AttemptsRemaining != 4 {
		t.Fatalf("expected mismatch with 4 remaining, got %+v err=%v", res, err)
	}

	if _, err := f.svc.Change(ctx, "1234", "5678"); err != nil {
		t.Fatalf("Change: %v", err)
	}
	res, _ = f.svc.Validate(ctx, "5678")
	if !res.Valid {
		t.Fatal("new pin should validate")
	}
}

func TestCorruptCounterFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")
	_ = f.kv.Set(ctx, "test:pin:attempts", "many")

	res, err := f.svc.Validate(ctx, "1234")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Locked {
		t.Fatalf("expected locked result, got %+v", res)
	}
	if v, _ := f.kv.Get(ctx, "test:pin:attempts"); v != "5" {
		t.Fatalf("counter not rewritten, got %q", v)
	}
}

func TestStateAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")
	_, _ = f.svc.Validate(ctx, "0000")

	st, err := f.svc.State(ctx)
	if err != nil || st.AttemptsRemaining != 4 || st.Locked {
		t.Fatalf("unexpected state %+v err=%v", st, err)
	}
	if err := f.svc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := f.svc.State(ctx); !errors.Is(err, ErrNotSet) {
		t.Fatalf("expected ErrNotSet after clear, got %v", err)
	}
}

func TestStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.Set(ctx, "1234")
	f.kv.Fail(errors.New("disk gone"))

	if _, err := f.svc.Validate(ctx, "1234"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestArgon2Integration(t *testing.T) {
	hasher, err := pinhash.NewArgon2(
		pinhash.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		pinhash.Policy{MinLength: 4, MaxLength: 6},
	)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	mem := kv.NewMemoryStore()
	svc, err := NewService(NewStore(mem, "argon"), Options{MaxAttempts: 3, LockDuration: time.Minute, Hasher: hasher})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if err := svc.Set(ctx, "482913"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	stored, _ := mem.Get(ctx, "argon:pin:hash")
	if strings.Contains(stored, "482913") {
		t.Fatal("plaintext pin persisted")
	}
	if res, err := svc.Validate(ctx, "482913"); err != nil || !res.Valid {
		t.Fatalf("expected valid, got %+v err=%v", res, err)
	}
}
