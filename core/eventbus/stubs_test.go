package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/rewards"
	"github.com/koscakluka/ema-live/core/texttospeech"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// recordingSession records every call the router makes.
type recordingSession struct {
	mu         sync.Mutex
	interrupts []*string
	prompts    []string
	personas   []string
	tips       []events.Tip
	closed     int
}

func (s *recordingSession) Interrupt(_ context.Context, heardText *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts = append(s.interrupts, heardText)
	return nil
}

func (s *recordingSession) SendPrompt(_ context.Context, prompt string) (<-chan orchestration.TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return make(chan orchestration.TurnResult, 1), nil
}

func (s *recordingSession) ChangePersona(_ context.Context, persona string) (<-chan orchestration.TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas = append(s.personas, persona)
	return make(chan orchestration.TurnResult, 1), nil
}

func (s *recordingSession) ReactToTip(_ context.Context, tip events.Tip) (<-chan orchestration.TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tips = append(s.tips, tip)
	return make(chan orchestration.TurnResult, 1), nil
}

func (s *recordingSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interrupts) + len(s.prompts) + len(s.personas) + len(s.tips)
}

type recordingRewarder struct {
	mu   sync.Mutex
	tips []events.Tip
}

func (r *recordingRewarder) Process(_ context.Context, tip events.Tip) (*rewards.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tips = append(r.tips, tip)
	return nil, false
}

type fakeSubscription struct {
	messages chan Message
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{messages: make(chan Message, 16)}
}

func (s *fakeSubscription) Messages() <-chan Message { return s.messages }
func (s *fakeSubscription) Close() error             { return nil }

// recordingClient is a client channel that keeps everything sent to it.
type recordingClient struct {
	mu       sync.Mutex
	statuses map[orchestration.StatusKind][]string
	payloads []orchestration.AudioPayload
}

func newRecordingClient() *recordingClient {
	return &recordingClient{statuses: map[orchestration.StatusKind][]string{}}
}

func (c *recordingClient) SendStatus(_ context.Context, kind orchestration.StatusKind, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[kind] = append(c.statuses[kind], text)
	return nil
}

func (c *recordingClient) SendAudioPayload(_ context.Context, payload orchestration.AudioPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingClient) Statuses(kind orchestration.StatusKind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statuses[kind]...)
}

func (c *recordingClient) Payloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

// blockingRenderer holds every Render call until release is closed, or
// until ctx is done when release is nil, then returns audio regardless.
type blockingRenderer struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingRenderer() *blockingRenderer {
	return &blockingRenderer{entered: make(chan struct{}, 16)}
}

func (r *blockingRenderer) Render(ctx context.Context, text string) (*texttospeech.Artifact, error) {
	r.calls.Add(1)
	select {
	case r.entered <- struct{}{}:
	default:
	}

	if r.release != nil {
		<-r.release
	} else {
		<-ctx.Done()
	}
	return &texttospeech.Artifact{Text: text, Audio: []byte(text), Encoding: audio.GetDefaultEncodingInfo(), Duration: time.Millisecond}, nil
}

func (r *blockingRenderer) Calls() int { return int(r.calls.Load()) }

func (r *blockingRenderer) awaitRender(t *testing.T) {
	t.Helper()

	select {
	case <-r.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the renderer")
	}
}

type confirmingChain struct {
	mu    sync.Mutex
	polls int
}

func (c *confirmingChain) SubmitMintTransaction(context.Context, string, rewards.Tier, time.Time) (string, error) {
	return "0xabc123", nil
}

func (c *confirmingChain) TransactionReceipt(context.Context, string) (rewards.ReceiptStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	return rewards.ReceiptSuccess, nil
}

func (c *confirmingChain) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}
