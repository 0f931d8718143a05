package flow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	// ErrIndexOutOfRange is returned when currentIndex does not address a step of the table.
	ErrIndexOutOfRange = errors.New("step index out of range")
	// ErrStepNotPending is returned when a payload targets a step that does not take one in
	// the current context.
	ErrStepNotPending = errors.New("step not pending")
)

// Instance is one initiated flow. It is immutable; progress lives in the caller's StepData.
type Instance struct {
	ID           string
	Type         Type
	Steps        []FlowStep
	InitialIndex int
	InitialStep  Step
	Device       DeviceInfo
	InitialData  StepData
	StartedAt    time.Time
}

// Transition is the result of evaluating a flow after an optional payload.
type Transition struct {
	Outcome Outcome
	// Step and Index are empty and -1 when Outcome is OutcomeComplete.
	Step  Step
	Index int
	Ctx   Ctx
	Data  StepData
	// Rejection is set when the payload was refused for a user-actionable reason.
	Rejection *Rejection
}

// EventKind classifies orchestrator notifications.
type EventKind uint8

const (
	EventInitiated EventKind = iota + 1
	EventTransition
	EventCompleted
)

// Event is emitted after Initiate and Advance.
type Event struct {
	Kind     EventKind
	FlowID   string
	Type     Type
	From     Step
	To       Step
	Outcome  Outcome
	Rejected bool
	DeviceID string
}

// Options configures an [Orchestrator].
type Options struct {
	Builder     *ContextBuilder
	Registry    *Registry
	Definitions Definitions
	DeviceProbe DeviceProbe
	Clock       clockwork.Clock
	Logger      *zap.Logger
	Observer    func(ctx context.Context, ev Event)
}

// Orchestrator computes the next step of a flow.
type Orchestrator struct {
	builder     *ContextBuilder
	registry    *Registry
	definitions Definitions
	probe       DeviceProbe
	clock       clockwork.Clock
	logger      *zap.Logger
	observer    func(ctx context.Context, ev Event)
	entropy     *ulid.LockedMonotonicReader
}

// NewOrchestrator validates opts. Every step referenced by a definition must have a handler.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Builder == nil {
		return nil, errors.New("flow context builder required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: registry not configured", ErrMissingHandler)
	}
	if opts.Definitions == nil {
		opts.Definitions = DefaultDefinitions()
	}
	for typ, steps := range opts.Definitions {
		for _, fs := range steps {
			if fs.Condition == nil {
				return nil, fmt.Errorf("flow %s step %s has no condition", typ, fs.Step)
			}
			if _, err := opts.Registry.Handler(fs.Step); err != nil {
				return nil, err
			}
		}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		builder:     opts.Builder,
		registry:    opts.Registry,
		definitions: opts.Definitions,
		probe:       opts.DeviceProbe,
		clock:       opts.Clock,
		logger:      opts.Logger,
		observer:    opts.Observer,
		entropy:     &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)},
	}, nil
}

// StepsFor returns the step table for typ.
func (o *Orchestrator) StepsFor(typ Type) ([]FlowStep, error) {
	return o.definitions.StepsFor(typ)
}

// BuildContext builds a Ctx for data.
func (o *Orchestrator) BuildContext(ctx context.Context, data StepData) Ctx {
	return o.builder.Build(ctx, data)
}

// Initiate starts a flow of typ. InitialIndex is the first pending step, or -1 when nothing
// is pending.
func (o *Orchestrator) Initiate(ctx context.Context, typ Type, initial StepData) (Instance, error) {
	steps, err := o.definitions.StepsFor(typ)
	if err != nil {
		return Instance{}, err
	}

	now := o.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), o.entropy)
	if err != nil {
		return Instance{}, err
	}

	c := o.builder.Build(ctx, initial)
	index := firstPending(steps, c)

	inst := Instance{
		ID:           id.String(),
		Type:         typ,
		Steps:        steps,
		InitialIndex: index,
		Device:       NewDeviceInfo(ctx, o.probe),
		InitialData:  initial,
		StartedAt:    now,
	}
	if index >= 0 {
		inst.InitialStep = steps[index].Step
	}

	o.logger.Debug("flow initiated",
		zap.String("flow_id", inst.ID),
		zap.String("type", string(typ)),
		zap.String("step", string(inst.InitialStep)),
	)
	o.notify(ctx, Event{Kind: EventInitiated, FlowID: inst.ID, Type: typ, To: inst.InitialStep, DeviceID: inst.Device.ID})
	return inst, nil
}

// DetermineNextStep applies payload (if any) at steps[currentIndex], rebuilds the context and
// returns the first pending step. currentIndex -1 evaluates without a payload. A payload for
// a step that is not pending fails with ErrStepNotPending before its handler runs.
func (o *Orchestrator) DetermineNextStep(ctx context.Context, steps []FlowStep, currentIndex int, data StepData, payload Payload) (Transition, error) {
	if len(steps) == 0 {
		return Transition{}, ErrNoSteps
	}
	if currentIndex < -1 || currentIndex >= len(steps) {
		return Transition{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, currentIndex, len(steps))
	}

	var rejection *Rejection
	if payload != nil {
		if currentIndex < 0 {
			return Transition{}, fmt.Errorf("%w: payload without a current step", ErrIndexOutOfRange)
		}
		current := steps[currentIndex].Step
		if payload.Step() != current {
			return Transition{}, fmt.Errorf("%w: %s payload at %s", ErrPayloadMismatch, payload.Step(), current)
		}
		if !steps[currentIndex].accepting(o.builder.Build(ctx, data)) {
			return Transition{}, fmt.Errorf("%w: %s", ErrStepNotPending, current)
		}
		h, err := o.registry.Handler(current)
		if err != nil {
			return Transition{}, err
		}
		next, err := h.Handle(ctx, data, payload)
		if err != nil && !errors.As(err, &rejection) {
			return Transition{}, err
		}
		data = next
	}

	c := o.builder.Build(ctx, data)
	index := firstPending(steps, c)

	t := Transition{Index: index, Ctx: c, Data: data, Rejection: rejection}
	switch {
	case index < 0:
		t.Outcome = OutcomeComplete
	case index == currentIndex:
		t.Outcome = OutcomeStayed
		t.Step = steps[index].Step
	default:
		t.Outcome = OutcomeAdvanced
		t.Step = steps[index].Step
	}
	return t, nil
}

// Advance is DetermineNextStep over inst's table with lifecycle notifications.
func (o *Orchestrator) Advance(ctx context.Context, inst Instance, currentIndex int, data StepData, payload Payload) (Transition, error) {
	t, err := o.DetermineNextStep(ctx, inst.Steps, currentIndex, data, payload)
	if err != nil {
		return t, err
	}

	var from Step
	if currentIndex >= 0 {
		from = inst.Steps[currentIndex].Step
	}
	kind := EventTransition
	if t.Outcome == OutcomeComplete || t.Step == StepAuthenticated {
		kind = EventCompleted
	}
	o.logger.Debug("flow transition",
		zap.String("flow_id", inst.ID),
		zap.String("from", string(from)),
		zap.String("to", string(t.Step)),
		zap.Stringer("outcome", t.Outcome),
		zap.Bool("rejected", t.Rejection != nil),
	)
	o.notify(ctx, Event{
		Kind:     kind,
		FlowID:   inst.ID,
		Type:     inst.Type,
		From:     from,
		To:       t.Step,
		Outcome:  t.Outcome,
		Rejected: t.Rejection != nil,
		DeviceID: inst.Device.ID,
	})
	return t, nil
}

// firstPending scans the whole table in order; the lowest index whose condition holds wins.
func firstPending(steps []FlowStep, c Ctx) int {
	for i, fs := range steps {
		if fs.Condition(c) {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) notify(ctx context.Context, ev Event) {
	if o.observer != nil {
		o.observer(ctx, ev)
	}
}
