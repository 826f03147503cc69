package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/llms"
	"github.com/koscakluka/ema-live/internal/utils"
	"github.com/shopspring/decimal"
)

func startOrchestrator(t *testing.T, engine llms.Engine, client ClientChannel, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()

	o := NewOrchestrator(NewSession("session-1", "You are a streamer."), engine, client, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	t.Cleanup(func() {
		o.Close()
		cancel()
	})
	return o
}

func TestSubmittedTurnsRunInOrder(t *testing.T) {
	engine := newStubEngine("first.", "second.", "third.")
	engine.delay = 5 * time.Millisecond
	o := startOrchestrator(t, engine, nil)

	var results []<-chan TurnResult
	for _, prompt := range []string{"one", "two", "three"} {
		result, err := o.SendPrompt(context.Background(), prompt)
		if err != nil {
			t.Fatalf("expected prompt to be accepted, got %v", err)
		}
		results = append(results, result)
	}
	for _, result := range results {
		if got := awaitResult(t, result); got.Status != TurnCompleted {
			t.Fatalf("expected completed turn, got %s (%v)", got.Status, got.Err)
		}
	}

	expected := []llms.Message{
		llms.UserMessage("one"), llms.AssistantMessage("first."),
		llms.UserMessage("two"), llms.AssistantMessage("second."),
		llms.UserMessage("three"), llms.AssistantMessage("third."),
	}
	if history := o.Snapshot().History; !slices.Equal(history, expected) {
		t.Fatalf("expected history %+v, got %+v", expected, history)
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", o.State())
	}
}

func TestInterruptWhileIdleIsNoop(t *testing.T) {
	o := startOrchestrator(t, newStubEngine(), nil)

	if err := o.Interrupt(context.Background(), utils.Ptr("anything")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if snapshot := o.Snapshot(); snapshot.State != StateIdle || len(snapshot.History) != 0 {
		t.Fatalf("expected untouched idle session, got %+v", snapshot)
	}
}

func TestInterruptReplacesResponseWithHeardText(t *testing.T) {
	engine := newStubEngine("Let me tell you a very long story.")
	engine.gate = make(chan struct{})
	client := &recordingClient{}
	o := startOrchestrator(t, engine, client, WithSpeech(&stubRenderer{duration: time.Millisecond}))

	results, err := o.SendPrompt(context.Background(), "tell me a story")
	if err != nil {
		t.Fatalf("expected prompt to be accepted, got %v", err)
	}
	<-engine.firstIncrement
	if o.State() != StateGenerating {
		t.Fatalf("expected generating state, got %s", o.State())
	}

	if err := o.Interrupt(context.Background(), utils.Ptr("stop that")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	result := awaitResult(t, results)
	if result.Status != TurnInterrupted {
		t.Fatalf("expected interrupted turn, got %s", result.Status)
	}

	snapshot := o.Snapshot()
	if snapshot.State != StateIdle {
		t.Fatalf("expected idle state, got %s", snapshot.State)
	}
	last := snapshot.History[len(snapshot.History)-1]
	if last.Role != llms.RoleAssistant || last.Content != "stop that" {
		t.Fatalf("expected heard text as last entry, got %+v", last)
	}
	if len(client.Payloads()) != 0 {
		t.Fatalf("expected no audio for the interrupted turn, got %d payloads", len(client.Payloads()))
	}
	if reconciled := engine.Reconciled(); !slices.Equal(reconciled, []string{"stop that"}) {
		t.Fatalf("expected engine to be reconciled, got %q", reconciled)
	}
}

func TestInterruptWithoutHeardTextKeepsPartialResponse(t *testing.T) {
	engine := newStubEngine("Partial answer here.")
	engine.gate = make(chan struct{})
	o := startOrchestrator(t, engine, nil)

	results, _ := o.SendPrompt(context.Background(), "question")
	<-engine.firstIncrement
	if err := o.Interrupt(context.Background(), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	awaitResult(t, results)

	history := o.Snapshot().History
	if last := history[len(history)-1]; last.Content != "Partial " {
		t.Fatalf("expected partial response to be kept, got %q", last.Content)
	}
	if len(engine.Reconciled()) != 0 {
		t.Fatalf("expected no reconciliation without heard text")
	}
}

func TestInterruptOnlyCancelsActiveTurn(t *testing.T) {
	engine := newStubEngine("Long answer.", "Queued answer.")
	engine.gate = make(chan struct{})
	o := startOrchestrator(t, engine, nil)

	first, _ := o.SendPrompt(context.Background(), "first")
	<-engine.firstIncrement
	second, _ := o.SendPrompt(context.Background(), "second")
	waitForCondition(t, time.Second, "second turn to be queued", func() bool { return o.Snapshot().Queued == 1 })

	if err := o.Interrupt(context.Background(), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := awaitResult(t, first); got.Status != TurnInterrupted {
		t.Fatalf("expected first turn interrupted, got %s", got.Status)
	}

	close(engine.gate)
	if got := awaitResult(t, second); got.Status != TurnCompleted || got.Text != "Queued answer." {
		t.Fatalf("expected queued turn to complete, got %+v", got)
	}
}

func TestInterruptOutlivingCallerStillApplies(t *testing.T) {
	engine := newStubEngine("First sentence. Second sentence.")
	renderer := newBlockingRenderer()
	renderer.release = make(chan struct{})
	client := &recordingClient{}
	o := startOrchestrator(t, engine, client, WithSpeech(renderer))

	results, _ := o.SendPrompt(context.Background(), "talk")
	renderer.awaitRender(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := o.Interrupt(ctx, utils.Ptr("First"))
	if !errors.Is(err, ErrCommandPending) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a pending interrupt, got %v", err)
	}

	close(renderer.release)
	if got := awaitResult(t, results); got.Status != TurnInterrupted {
		t.Fatalf("expected the turn to be interrupted, got %s (%v)", got.Status, got.Err)
	}
	waitForCondition(t, time.Second, "idle session", func() bool { return o.State() == StateIdle })

	history := o.Session().History()
	if len(history) != 2 || history[1].Content != "First" {
		t.Fatalf("expected the heard text to replace the response, got %+v", history)
	}
	if len(client.Payloads()) != 0 {
		t.Fatalf("expected no audio for the interrupted turn")
	}
}

func TestFailedTurnSendsApology(t *testing.T) {
	engine := newStubEngine()
	engine.err = errBackend
	client := &recordingClient{}
	o := startOrchestrator(t, engine, client, WithApology("sorry!"))

	results, _ := o.SendPrompt(context.Background(), "hello")
	result := awaitResult(t, results)
	if result.Status != TurnFailed || !errors.Is(result.Err, errBackend) {
		t.Fatalf("expected failed turn, got %+v", result)
	}

	waitForCondition(t, time.Second, "chain end", func() bool {
		controls := client.Statuses(StatusControl)
		return len(controls) == 2 && controls[1] == ControlChainEnd
	})
	if texts := client.Statuses(StatusFullText); !slices.Equal(texts, []string{"sorry!"}) {
		t.Fatalf("expected apology, got %q", texts)
	}
	if controls := client.Statuses(StatusControl); controls[0] != ControlChainStart {
		t.Fatalf("expected chain start first, got %q", controls)
	}
}

func TestChangePersonaInterruptsAndAcknowledges(t *testing.T) {
	engine := newStubEngine("Some long monologue.", "Arr, I be a pirate now.")
	engine.gate = make(chan struct{})
	o := startOrchestrator(t, engine, nil)

	first, _ := o.SendPrompt(context.Background(), "talk")
	<-engine.firstIncrement

	ack, err := o.ChangePersona(context.Background(), "You are a pirate.")
	if err != nil {
		t.Fatalf("expected persona change, got %v", err)
	}
	if got := awaitResult(t, first); got.Status != TurnInterrupted {
		t.Fatalf("expected active turn to be interrupted, got %s", got.Status)
	}
	if o.Session().Persona() != "You are a pirate." {
		t.Fatalf("expected persona to change, got %q", o.Session().Persona())
	}

	close(engine.gate)
	if got := awaitResult(t, ack); got.Status != TurnCompleted || got.Text != "Arr, I be a pirate now." {
		t.Fatalf("expected acknowledgment turn, got %+v", got)
	}

	prompts := engine.Prompts()
	if !strings.HasPrefix(prompts[1].Instructions, "You are a pirate.") {
		t.Fatalf("expected acknowledgment in the new persona, got %q", prompts[1].Instructions)
	}
}

func TestReactToTipAcknowledgesTipper(t *testing.T) {
	engine := newStubEngine("Thank you alice!")
	client := &recordingClient{}
	o := startOrchestrator(t, engine, client)

	tip := events.NewTip("session-1", decimal.NewFromInt(60), "ETH", "alice")
	tip.Message = "love the stream"
	results, err := o.ReactToTip(context.Background(), tip)
	if err != nil {
		t.Fatalf("expected tip to be accepted, got %v", err)
	}
	if got := awaitResult(t, results); got.Status != TurnCompleted {
		t.Fatalf("expected acknowledgment turn, got %+v", got)
	}

	prompt := engine.Prompts()[0]
	userText := prompt.History[len(prompt.History)-1].Content
	for _, expected := range []string{"alice", "60 ETH", "love the stream"} {
		if !strings.Contains(userText, expected) {
			t.Fatalf("expected %q in acknowledgment prompt %q", expected, userText)
		}
	}
	if texts := client.Statuses(StatusFullText); len(texts) == 0 || texts[0] != DefaultTipStatus {
		t.Fatalf("expected tip status first, got %q", texts)
	}
}

func TestCloseFailsOutstandingTurns(t *testing.T) {
	engine := newStubEngine("Never ending.")
	engine.gate = make(chan struct{})
	o := startOrchestrator(t, engine, nil)

	active, _ := o.SendPrompt(context.Background(), "one")
	<-engine.firstIncrement
	queued, _ := o.SendPrompt(context.Background(), "two")

	o.Close()

	for _, results := range []<-chan TurnResult{active, queued} {
		if got := awaitResult(t, results); got.Status != TurnFailed || !errors.Is(got.Err, ErrSessionClosed) {
			t.Fatalf("expected session closed failure, got %+v", got)
		}
	}
	if _, err := o.SendPrompt(context.Background(), "three"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session to reject prompts, got %v", err)
	}
	if err := o.Interrupt(context.Background(), nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session to reject interrupts, got %v", err)
	}
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	o := startOrchestrator(t, newStubEngine(), nil)
	if _, err := o.SendPrompt(context.Background(), ""); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected empty prompt error, got %v", err)
	}
}

func TestTipPrompt(t *testing.T) {
	tip := events.NewTip("s", decimal.RequireFromString("0.25"), "SOL", "bob")
	if got := TipPrompt(tip); got != "bob just tipped you 0.25 SOL." {
		t.Fatalf("unexpected prompt %q", got)
	}

	tip.Message = "gm"
	if got := TipPrompt(tip); got != fmt.Sprintf("bob just tipped you 0.25 SOL. Their message: %q", "gm") {
		t.Fatalf("unexpected prompt %q", got)
	}
}
