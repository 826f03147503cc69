package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/llms"
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

func awaitResult(t *testing.T, results <-chan TurnResult) TurnResult {
	t.Helper()

	select {
	case result := <-results:
		return result
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for turn result")
		return TurnResult{}
	}
}

// stubEngine answers every prompt with the next response, word by word.
// With a gate set every increment after the first waits for the gate.
type stubEngine struct {
	mu         sync.Mutex
	responses  []string
	calls      int
	prompts    []llms.Prompt
	reconciled []string

	gate  chan struct{}
	delay time.Duration
	err   error

	firstIncrement chan struct{}
	inflight       atomic.Int32
	maxInflight    atomic.Int32
}

func newStubEngine(responses ...string) *stubEngine {
	if len(responses) == 0 {
		responses = []string{"Okay."}
	}
	return &stubEngine{responses: responses, firstIncrement: make(chan struct{}, 100)}
}

func (e *stubEngine) Generate(_ context.Context, prompt llms.Prompt, _ ...llms.GenerateOption) llms.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prompts = append(e.prompts, prompt)
	response := e.responses[min(e.calls, len(e.responses)-1)]
	e.calls++
	return &stubStream{engine: e, words: strings.SplitAfter(response, " ")}
}

func (e *stubEngine) Reconcile(_ context.Context, heardText string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciled = append(e.reconciled, heardText)
}

func (e *stubEngine) Prompts() []llms.Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]llms.Prompt(nil), e.prompts...)
}

func (e *stubEngine) Reconciled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.reconciled...)
}

type stubStream struct {
	engine *stubEngine
	words  []string
}

func (s *stubStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		e := s.engine
		current := e.inflight.Add(1)
		defer e.inflight.Add(-1)
		for {
			observed := e.maxInflight.Load()
			if current <= observed || e.maxInflight.CompareAndSwap(observed, current) {
				break
			}
		}

		if e.err != nil {
			yield(nil, e.err)
			return
		}

		for i, word := range s.words {
			if i > 0 && e.gate != nil {
				select {
				case <-e.gate:
				case <-ctx.Done():
					yield(nil, context.Cause(ctx))
					return
				}
			}
			if e.delay > 0 {
				if err := sleepContext(ctx, e.delay); err != nil {
					yield(nil, err)
					return
				}
			}

			if !yield(llms.ContentChunk{Text: word}, nil) {
				return
			}
			if i == 0 {
				select {
				case e.firstIncrement <- struct{}{}:
				default:
				}
			}
		}
	}
}

// stubRenderer renders every sentence into one artifact of a fixed
// duration.
type stubRenderer struct {
	duration time.Duration
	err      error
	rendered atomic.Int32
}

func (r *stubRenderer) Render(_ context.Context, text string) (*texttospeech.Artifact, error) {
	if r.err != nil {
		return nil, r.err
	}
	if text == "" {
		return nil, nil
	}
	r.rendered.Add(1)
	return &texttospeech.Artifact{
		Text:     text,
		Audio:    []byte(text),
		Encoding: audio.GetDefaultEncodingInfo(),
		Duration: r.duration,
	}, nil
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
	return &texttospeech.Artifact{
		Text:     text,
		Audio:    []byte(text),
		Encoding: audio.GetDefaultEncodingInfo(),
		Duration: time.Millisecond,
	}, nil
}

func (r *blockingRenderer) awaitRender(t *testing.T) {
	t.Helper()

	select {
	case <-r.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the renderer")
	}
}

type sentStatus struct {
	kind StatusKind
	text string
}

type recordingClient struct {
	mu       sync.Mutex
	statuses []sentStatus
	payloads []AudioPayload
}

func (c *recordingClient) SendStatus(_ context.Context, kind StatusKind, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, sentStatus{kind: kind, text: text})
	return nil
}

func (c *recordingClient) SendAudioPayload(_ context.Context, payload AudioPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingClient) Statuses(kind StatusKind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var texts []string
	for _, status := range c.statuses {
		if status.kind == kind {
			texts = append(texts, status.text)
		}
	}
	return texts
}

func (c *recordingClient) Payloads() []AudioPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AudioPayload(nil), c.payloads...)
}

var errBackend = errors.New("backend unavailable")
