package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/pinflow/authapi"
	"github.com/MrEthical07/pinflow/kv"
	"github.com/MrEthical07/pinflow/pin"
	"github.com/MrEthical07/pinflow/pinhash"
	"github.com/MrEthical07/pinflow/session"
	"github.com/MrEthical07/pinflow/token"
	"github.com/MrEthical07/pinflow/transport"
	"github.com/jonboulle/clockwork"
)

const testOTP = "123456"

// fakeAuth is an in-memory auth service that accepts testOTP for every identity.
type fakeAuth struct {
	clock   clockwork.Clock
	manager *token.Manager

	mu       sync.Mutex
	sent     map[string]int
	verified map[string]bool
}

func (f *fakeAuth) SendOTP(_ context.Context, medium authapi.Medium, value string, channel authapi.Channel) (authapi.OTPInitiation, error) {
	f.mu.Lock()
	f.sent[string(medium)+":"+value]++
	f.mu.Unlock()
	return authapi.OTPInitiation{ExpiresAt: f.clock.Now().Add(5 * time.Minute), Channel: channel}, nil
}

func (f *fakeAuth) VerifyOTP(_ context.Context, medium authapi.Medium, value, otp string) (bool, error) {
	if otp != testOTP {
		return false, nil
	}
	f.mu.Lock()
	f.verified[string(medium)+":"+value] = true
	f.mu.Unlock()
	return true, nil
}

func (f *fakeAuth) AcquireToken(_ context.Context, phone, email string) (token.Pair, error) {
	access, err := f.manager.Issue(phone, token.Claims{Phone: phone, Email: email}, time.Hour)
	if err != nil {
		return token.Pair{}, err
	}
	return token.Pair{AccessToken: access, RefreshToken: "refresh"}, nil
}

func (f *fakeAuth) RefreshToken(context.Context, string) (token.Pair, error) {
	return token.Pair{}, token.ErrNoToken
}

func (f *fakeAuth) Logout(context.Context) error { return nil }

type fixture struct {
	clock    *clockwork.FakeClock
	mem      *kv.MemoryStore
	auth     *fakeAuth
	creds    *transport.Credentials
	pins     *pin.Service
	sessions *session.Service
	builder  *ContextBuilder
	orch     *Orchestrator
	events   []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))
	mem := kv.NewMemoryStore()

	manager, err := token.NewManager(token.Config{
		SigningMethod: token.MethodHS256,
		SigningKey:    []byte("flow-test-secret-flow-test-secret"),
		ExpiryBuffer:  30 * time.Second,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}

	hasher, err := pinhash.NewArgon2(
		pinhash.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		pinhash.Policy{MinLength: 4, MaxLength: 6},
	)
	if err != nil {
		t.Fatalf("pinhash.NewArgon2: %v", err)
	}
	pins, err := pin.NewService(pin.NewStore(mem, "dev"), pin.Options{
		MaxAttempts: 5, LockDuration: 5 * time.Minute, Hasher: hasher, Clock: clock,
	})
	if err != nil {
		t.Fatalf("pin.NewService: %v", err)
	}

	sessStore := session.NewStore(mem, "dev")
	sessions, err := session.NewService(sessStore, session.Options{TTL: 5 * time.Minute, Clock: clock, Pins: pins})
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}

	creds := transport.NewCredentials(token.NewStore(mem, "dev"))
	auth := &fakeAuth{clock: clock, manager: manager, sent: map[string]int{}, verified: map[string]bool{}}

	builder := NewContextBuilder(BuilderOptions{
		Sessions: sessStore,
		Pins:     pins,
		Tokens:   creds,
		Validity: manager,
		Clock:    clock,
	})

	handlers, err := DefaultHandlers(HandlerDeps{
		Auth:        auth,
		Credentials: creds,
		Pins:        pins,
		Sessions:    sessions,
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("DefaultHandlers: %v", err)
	}
	registry, err := NewRegistry(handlers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	f := &fixture{clock: clock, mem: mem, auth: auth, creds: creds, pins: pins, sessions: sessions, builder: builder}
	orch, err := NewOrchestrator(Options{
		Builder:  builder,
		Registry: registry,
		Clock:    clock,
		DeviceProbe: func(context.Context) (string, string, string) {
			return "Pixel 8", "14", "android"
		},
		Observer: func(_ context.Context, ev Event) { f.events = append(f.events, ev) },
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	f.orch = orch
	return f
}

// advance submits payload and fails the test on a hard error.
func (f *fixture) advance(t *testing.T, inst Instance, index int, data StepData, p Payload) Transition {
	t.Helper()
	tr, err := f.orch.Advance(context.Background(), inst, index, data, p)
	if err != nil {
		t.Fatalf("Advance(%d, %T): %v", index, p, err)
	}
	return tr
}
