package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
)

type StatusKind string

const (
	// StatusFullText carries text meant to be shown to the user.
	StatusFullText StatusKind = "full-text"
	// StatusControl carries one of the Control* values.
	StatusControl StatusKind = "control"
)

const (
	ControlStartMic   = "start-mic"
	ControlChainStart = "conversation-chain-start"
	ControlChainEnd   = "conversation-chain-end"
)

type AudioPayload struct {
	TurnID   string
	Text     string
	Audio    []byte
	Encoding audio.EncodingInfo
	Duration time.Duration
}

// ClientChannel is the outbound half of a client connection. Implementations
// must be safe for concurrent use.
type ClientChannel interface {
	SendStatus(ctx context.Context, kind StatusKind, text string) error
	SendAudioPayload(ctx context.Context, payload AudioPayload) error
}

// ClientEndpoint is a full client connection.
type ClientEndpoint interface {
	ClientChannel
	// ReceiveEvent blocks until the client sends the next signal.
	ReceiveEvent(ctx context.Context) (ClientSignal, error)
}

type ClientSignal interface {
	clientSignal()
}

// TurnSignal ends the user's turn, either with typed text or by marking the
// end of the recorded audio.
type TurnSignal struct {
	Text     string
	AudioEnd bool
}

type InterruptSignal struct {
	HeardText *string
}

// RawAudioChunk carries normalised float samples as captured by the client.
type RawAudioChunk struct {
	Samples []float32
}

func (TurnSignal) clientSignal()      {}
func (InterruptSignal) clientSignal() {}
func (RawAudioChunk) clientSignal()   {}

type discardClient struct{}

func (discardClient) SendStatus(context.Context, StatusKind, string) error { return nil }
func (discardClient) SendAudioPayload(context.Context, AudioPayload) error { return nil }
