package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-live/core/llms"
	"github.com/koscakluka/ema-live/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TurnExecutor runs single conversation turns. It holds no per-turn state and
// can be shared by every turn of a session.
type TurnExecutor struct {
	engine   llms.Engine
	renderer texttospeech.Renderer
	client   ClientChannel

	generationTimeout time.Duration
	generateOptions   []llms.GenerateOption
}

type ExecutorOption func(*TurnExecutor)

// WithRenderer enables speech. Without a renderer the response is sent to
// the client as text.
func WithRenderer(renderer texttospeech.Renderer) ExecutorOption {
	return func(e *TurnExecutor) { e.renderer = renderer }
}

// WithGenerationTimeout bounds how long the engine may take to finish a
// response. Zero disables the bound.
func WithGenerationTimeout(timeout time.Duration) ExecutorOption {
	return func(e *TurnExecutor) { e.generationTimeout = timeout }
}

func WithGenerateOptions(opts ...llms.GenerateOption) ExecutorOption {
	return func(e *TurnExecutor) { e.generateOptions = append(e.generateOptions, opts...) }
}

func NewTurnExecutor(engine llms.Engine, client ClientChannel, opts ...ExecutorOption) *TurnExecutor {
	if client == nil {
		client = discardClient{}
	}

	e := &TurnExecutor{engine: engine, client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one turn to a terminal state. The user entry is appended to
// the session history before generation starts, the assistant entry only if
// the turn completes. Cancelling ctx with [ErrTurnInterrupted] as the cause
// ends the turn as interrupted, any other cancellation fails it.
func (e *TurnExecutor) Execute(ctx context.Context, session *Session, req TurnRequest) (result TurnResult) {
	ctx, span := tracer.Start(ctx, "execute turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", session.ID()), attribute.String("turn.id", req.ID))

	startedAt := time.Now()
	defer func() {
		result.StartedAt = startedAt
		result.FinishedAt = time.Now()
		span.SetAttributes(attribute.String("turn.status", string(result.Status)))
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
	}()

	session.append(llms.UserMessage(req.Text))
	prompt := llms.Prompt{
		Instructions: instructions(session.Persona(), req.Annotations),
		History:      session.History(),
	}

	workerCtx, cancelWorkers := context.WithCancelCause(ctx)
	defer cancelWorkers(nil)

	buffer := newTextBuffer()
	hookDone := withContextCancelHook(workerCtx, buffer.Clear)
	defer close(hookDone)

	speech := speechProgress{}
	workers := []workerRun{
		panicSafeNamedWorker("generation", func(ctx context.Context) error {
			return e.generate(ctx, prompt, buffer)
		}),
		panicSafeNamedWorker("speech", func(ctx context.Context) error {
			return e.speak(ctx, req.ID, buffer, &speech)
		}),
	}

	var (
		wg        sync.WaitGroup
		workerMu  sync.Mutex
		workerErr error
	)
	wg.Add(len(workers))
	for _, worker := range workers {
		go func() {
			defer wg.Done()
			if err := worker(workerCtx); err != nil {
				workerMu.Lock()
				workerErr = errors.Join(workerErr, err)
				workerMu.Unlock()
				cancelWorkers(err)
			}
		}()
	}
	wg.Wait()

	text := buffer.String()
	switch {
	case ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrTurnInterrupted):
		result = interrupted(req.ID, text)
	case ctx.Err() != nil:
		result = failed(req.ID, text, context.Cause(ctx))
	case workerErr != nil:
		result = failed(req.ID, text, workerErr)
	default:
		session.append(llms.AssistantMessage(text))
		result = completed(req.ID, text)
	}

	result.AudioChunks = speech.chunks
	result.AudioDuration = speech.duration
	return result
}

func (e *TurnExecutor) generate(ctx context.Context, prompt llms.Prompt, buffer *textBuffer) error {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()

	if e.generationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.generationTimeout, ErrGenerationTimeout)
		defer cancel()
	}

	increments := 0
	for chunk, err := range e.engine.Generate(ctx, prompt, e.generateOptions...).Chunks(ctx) {
		// Engines are not required to watch ctx, checking between
		// increments keeps cancellation prompt regardless.
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			err = fmt.Errorf("failed to generate response: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		if content, ok := chunk.(llms.StreamContentChunk); ok && content.Content() != "" {
			increments++
			buffer.AddChunk(content.Content())
		}
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	span.SetAttributes(attribute.Int("response.increments", increments))
	buffer.TextComplete()
	return nil
}

type speechProgress struct {
	chunks   int
	duration time.Duration
}

// speak sends the response to the client sentence by sentence. With a
// renderer every sentence is sent as audio and the worker waits for as long
// as it plays, so the turn only ends once the client is done listening.
func (e *TurnExecutor) speak(ctx context.Context, turnID string, buffer *textBuffer, progress *speechProgress) error {
	ctx, span := tracer.Start(ctx, "speak response")
	defer span.End()

	for sentence := range buffer.Sentences {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		if e.renderer == nil {
			if err := e.client.SendStatus(ctx, StatusFullText, sentence); err != nil {
				logger.WarnContext(ctx, "failed to send response text", "turn", turnID, "error", err)
			}
			continue
		}

		artifact, err := e.renderer.Render(ctx, sentence)
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to render speech: %w", err)
		}
		if artifact == nil {
			continue
		}

		if err := e.client.SendAudioPayload(ctx, AudioPayload{
			TurnID:   turnID,
			Text:     artifact.Text,
			Audio:    artifact.Audio,
			Encoding: artifact.Encoding,
			Duration: artifact.Duration,
		}); err != nil {
			logger.WarnContext(ctx, "failed to send audio payload", "turn", turnID, "error", err)
		}
		progress.chunks++
		progress.duration += artifact.Duration

		if err := sleepContext(ctx, artifact.Duration); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.Int("speech.chunks", progress.chunks))
	return nil
}

func instructions(persona string, annotations []string) string {
	if len(annotations) == 0 {
		return persona
	}

	parts := append([]string{persona}, annotations...)
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
