package llms

import "context"

// Stream is a lazy, finite and non-restartable sequence of generated
// increments. Chunks must stop producing once ctx is done or the consumer
// stops iterating.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ContentChunk is a plain text increment usable by any engine.
type ContentChunk struct {
	Text   string
	Finish *string
}

func (c ContentChunk) FinishReason() *string { return c.Finish }
func (c ContentChunk) Content() string       { return c.Text }

// ErrorStream yields a single error, used by engines that fail before any
// increment is produced.
type ErrorStream struct{ Err error }

func (s ErrorStream) Chunks(context.Context) func(func(StreamChunk, error) bool) {
	return func(yield func(StreamChunk, error) bool) {
		yield(nil, s.Err)
	}
}
