package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-live/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	// StateInterrupted lasts from the interrupt request until the cancelled
	// turn has been reconciled into the history.
	StateInterrupted State = "interrupted"
)

// Orchestrator owns one session. Every state transition happens on the
// single goroutine started by Run, so at most one turn is ever in flight and
// turns run in the order they were submitted.
type Orchestrator struct {
	session  *Session
	engine   llms.Engine
	executor *TurnExecutor
	client   ClientChannel
	options  orchestratorOptions

	commands chan command
	turnDone chan turnOutcome
	closeCh  chan struct{}
	done     chan struct{}

	runOnce   sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	state  atomic.Value
	queued atomic.Int32
}

type pendingTurn struct {
	req    TurnRequest
	result chan TurnResult
}

type activeTurn struct {
	pendingTurn
	cancel context.CancelCauseFunc
}

type turnOutcome struct {
	turn   pendingTurn
	result TurnResult
}

// interruption is what the actor still has to do once the cancelled turn
// reports back.
type interruption struct {
	heardText *string
	after     []func()
}

type command interface {
	apply(o *Orchestrator, a *actor)
}

// actor holds the state only the Run goroutine touches.
type actor struct {
	ctx          context.Context
	queue        []pendingTurn
	active       *activeTurn
	interruption *interruption
}

func NewOrchestrator(session *Session, engine llms.Engine, client ClientChannel, opts ...OrchestratorOption) *Orchestrator {
	if client == nil {
		client = discardClient{}
	}

	o := &Orchestrator{
		session:  session,
		engine:   engine,
		client:   client,
		options:  defaultOrchestratorOptions(),
		commands: make(chan command),
		turnDone: make(chan turnOutcome),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&o.options)
	}
	o.executor = NewTurnExecutor(engine, client, o.options.executorOptions...)
	o.state.Store(StateIdle)

	return o
}

func (o *Orchestrator) Session() *Session { return o.session }

func (o *Orchestrator) State() State { return o.state.Load().(State) }

// Run processes commands until ctx is done or Close is called. Turns run with
// a context derived from ctx. Run must be called exactly once, later calls
// return immediately.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runOnce.Do(func() {
		o.started.Store(true)
		defer close(o.done)

		a := &actor{ctx: ctx}
		for {
			select {
			case <-ctx.Done():
				o.shutdown(a, context.Cause(ctx))
				return
			case <-o.closeCh:
				o.shutdown(a, ErrSessionClosed)
				return
			case cmd := <-o.commands:
				cmd.apply(o, a)
			case outcome := <-o.turnDone:
				o.finishTurn(a, outcome)
			}
			o.dispatchNext(a)
		}
	})
}

// Close stops the orchestrator, failing the active and every queued turn.
// It blocks until Run has returned.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.closeCh) })
	if o.started.Load() {
		<-o.done
	}
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) send(ctx context.Context, cmd command) error {
	select {
	case o.commands <- cmd:
		return nil
	case <-o.closeCh:
		return ErrSessionClosed
	case <-o.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Submit queues a turn. The returned channel receives the terminal result
// exactly once.
func (o *Orchestrator) Submit(ctx context.Context, req TurnRequest) (<-chan TurnResult, error) {
	if req.Text == "" {
		return nil, ErrEmptyPrompt
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	result := make(chan TurnResult, 1)
	if err := o.send(ctx, submitCommand{turn: pendingTurn{req: req, result: result}}); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) SendPrompt(ctx context.Context, prompt string) (<-chan TurnResult, error) {
	return o.Submit(ctx, NewTurnRequest(prompt))
}

// Interrupt cancels the active turn and waits until it has been reconciled.
// heardText, when set, replaces the response in the history. Interrupting an
// idle session does nothing.
func (o *Orchestrator) Interrupt(ctx context.Context, heardText *string) error {
	reconciled := make(chan struct{})
	if err := o.send(ctx, interruptCommand{heardText: heardText, done: reconciled}); err != nil {
		return err
	}
	return o.await(ctx, reconciled)
}

// ChangePersona interrupts the active turn, swaps the persona once it has
// been reconciled and queues an acknowledgment turn in the new persona.
func (o *Orchestrator) ChangePersona(ctx context.Context, persona string) (<-chan TurnResult, error) {
	if persona == "" {
		return nil, fmt.Errorf("persona: %w", ErrEmptyPrompt)
	}

	changed := make(chan struct{})
	ack := pendingTurn{
		req:    NewTurnRequest(o.options.personaAcknowledgment, annotationPersonaChange),
		result: make(chan TurnResult, 1),
	}
	if err := o.send(ctx, personaCommand{persona: persona, ack: ack, done: changed}); err != nil {
		return nil, err
	}
	if err := o.await(ctx, changed); err != nil {
		return nil, err
	}
	return ack.result, nil
}

func (o *Orchestrator) await(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-o.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommandPending, context.Cause(ctx))
	}
}

type SessionSnapshot struct {
	ID      string
	State   State
	Persona string
	History []llms.Message
	Queued  int
}

func (o *Orchestrator) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:      o.session.ID(),
		State:   o.State(),
		Persona: o.session.Persona(),
		History: o.session.History(),
		Queued:  int(o.queued.Load()),
	}
}

type submitCommand struct{ turn pendingTurn }

func (c submitCommand) apply(o *Orchestrator, a *actor) {
	a.queue = append(a.queue, c.turn)
	o.queued.Store(int32(len(a.queue)))
}

type interruptCommand struct {
	heardText *string
	done      chan struct{}
}

func (c interruptCommand) apply(o *Orchestrator, a *actor) {
	if a.active == nil {
		close(c.done)
		return
	}
	o.interruptActive(a, c.heardText, func() { close(c.done) })
}

type personaCommand struct {
	persona string
	ack     pendingTurn
	done    chan struct{}
}

func (c personaCommand) apply(o *Orchestrator, a *actor) {
	change := func() {
		o.session.setPersona(c.persona)
		a.queue = append(a.queue, c.ack)
		o.queued.Store(int32(len(a.queue)))
		close(c.done)
	}

	if a.active == nil {
		change()
		return
	}
	o.interruptActive(a, nil, change)
}

func (o *Orchestrator) interruptActive(a *actor, heardText *string, after func()) {
	if a.interruption == nil {
		a.interruption = &interruption{}
	}
	if heardText != nil {
		a.interruption.heardText = heardText
	}
	a.interruption.after = append(a.interruption.after, after)

	o.state.Store(StateInterrupted)
	a.active.cancel(ErrTurnInterrupted)
}

func (o *Orchestrator) dispatchNext(a *actor) {
	if a.active != nil || len(a.queue) == 0 {
		return
	}

	next := a.queue[0]
	a.queue = a.queue[1:]
	o.queued.Store(int32(len(a.queue)))

	turnCtx, cancel := context.WithCancelCause(a.ctx)
	a.active = &activeTurn{pendingTurn: next, cancel: cancel}
	o.state.Store(StateGenerating)

	go func() {
		defer cancel(nil)
		result := o.runTurn(turnCtx, next.req)
		select {
		case o.turnDone <- turnOutcome{turn: next, result: result}:
		case <-o.done:
		}
	}()
}

// runTurn executes the turn and tells the client about it. It runs outside
// the actor so client writes never hold up other commands.
func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest) TurnResult {
	o.sendControl(ctx, ControlChainStart)
	result := o.executor.Execute(ctx, o.session, req)

	if result.Status == TurnFailed && !errors.Is(result.Err, ErrSessionClosed) {
		logger.WarnContext(ctx, "turn failed", "session", o.session.ID(), "turn", req.ID, "error", result.Err)
		if err := o.client.SendStatus(context.WithoutCancel(ctx), StatusFullText, o.options.apology); err != nil {
			logger.WarnContext(ctx, "failed to send apology", "session", o.session.ID(), "error", err)
		}
	}
	o.sendControl(context.WithoutCancel(ctx), ControlChainEnd)
	return result
}

func (o *Orchestrator) sendControl(ctx context.Context, control string) {
	if err := o.client.SendStatus(ctx, StatusControl, control); err != nil {
		logger.DebugContext(ctx, "failed to send control", "control", control, "error", err)
	}
}

// finishTurn reconciles the history with what the listener heard when the
// turn was interrupted, then releases the session.
func (o *Orchestrator) finishTurn(a *actor, outcome turnOutcome) {
	result := outcome.result
	pending := a.interruption
	a.interruption = nil
	a.active = nil

	if result.Status == TurnInterrupted {
		o.session.append(llms.AssistantMessage(result.Text))
	}
	if pending != nil && pending.heardText != nil &&
		(result.Status == TurnInterrupted || result.Status == TurnCompleted) {
		o.session.overwriteLast(*pending.heardText)
		if reconciler, ok := o.engine.(llms.Reconciler); ok {
			reconciler.Reconcile(a.ctx, *pending.heardText)
		}
	}

	turnsCounter.Add(a.ctx, 1, metric.WithAttributes(attribute.String("status", string(result.Status))))
	outcome.turn.result <- result

	o.state.Store(StateIdle)
	if pending != nil {
		for _, after := range pending.after {
			after()
		}
	}
}

func (o *Orchestrator) shutdown(a *actor, reason error) {
	if a.active != nil {
		a.active.cancel(reason)
		outcome := <-o.turnDone
		o.finishTurn(a, outcome)
	}

	for _, turn := range a.queue {
		turn.result <- failed(turn.req.ID, "", reason)
	}
	a.queue = nil
	o.queued.Store(0)
}
