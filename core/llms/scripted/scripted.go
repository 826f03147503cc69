// Package scripted provides an engine that replays canned responses. It is
// used for local development without a model backend and in tests.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-live/core/llms"
)

const defaultResponse = "I hear you. Tell me more."

func init() {
	llms.Register("scripted", func(config llms.ProviderConfig) (llms.Engine, error) {
		opts := []Option{}
		if response, ok := config.Options["response"]; ok {
			opts = append(opts, WithResponses(response))
		}
		if rawDelay, ok := config.Options["delay"]; ok {
			delay, err := time.ParseDuration(rawDelay)
			if err != nil {
				return nil, fmt.Errorf("invalid delay %q: %w", rawDelay, err)
			}
			opts = append(opts, WithDelay(delay))
		}
		return New(opts...), nil
	})
}

// Engine yields its responses word by word. Once the configured responses
// run out the last one is repeated.
type Engine struct {
	mu        sync.Mutex
	responses []string
	next      int
	delay     time.Duration
	echo      bool

	prompts    []llms.Prompt
	reconciled []string
}

type Option func(*Engine)

func WithResponses(responses ...string) Option {
	return func(e *Engine) { e.responses = responses }
}

// WithDelay sets the pause between increments.
func WithDelay(delay time.Duration) Option {
	return func(e *Engine) { e.delay = delay }
}

// WithEcho makes the engine answer with the last history entry.
func WithEcho() Option {
	return func(e *Engine) { e.echo = true }
}

func New(opts ...Option) *Engine {
	e := &Engine{responses: []string{defaultResponse}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Generate(_ context.Context, prompt llms.Prompt, _ ...llms.GenerateOption) llms.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prompts = append(e.prompts, prompt)

	var response string
	switch {
	case e.echo && len(prompt.History) > 0:
		response = prompt.History[len(prompt.History)-1].Content
	case len(e.responses) > 0:
		idx := min(e.next, len(e.responses)-1)
		response = e.responses[idx]
		e.next++
	}

	return stream{words: strings.SplitAfter(response, " "), delay: e.delay}
}

func (e *Engine) Reconcile(_ context.Context, heardText string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciled = append(e.reconciled, heardText)
}

// Prompts returns every prompt the engine was asked to generate for.
func (e *Engine) Prompts() []llms.Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]llms.Prompt(nil), e.prompts...)
}

func (e *Engine) Reconciled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.reconciled...)
}

type stream struct {
	words []string
	delay time.Duration
}

func (s stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, word := range s.words {
			if word == "" {
				continue
			}
			if s.delay > 0 {
				timer := time.NewTimer(s.delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					yield(nil, context.Cause(ctx))
					return
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				yield(nil, context.Cause(ctx))
				return
			}

			if !yield(llms.ContentChunk{Text: word}, nil) {
				return
			}
		}
	}
}
