package orchestration

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTurnInterrupted   = errors.New("turn interrupted")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrSessionClosed     = errors.New("session closed")
	ErrEmptyPrompt       = errors.New("empty prompt")
	// ErrCommandPending is returned when the caller stopped waiting after the
	// session accepted a command. The command still takes effect.
	ErrCommandPending = errors.New("command accepted but not applied yet")
)

// TurnRequest is the input to one generation cycle.
type TurnRequest struct {
	ID   string
	Text string
	// Annotations are extra instructions for this turn only, e.g. that the
	// prompt is a tip acknowledgment.
	Annotations []string
}

func NewTurnRequest(text string, annotations ...string) TurnRequest {
	return TurnRequest{ID: uuid.NewString(), Text: text, Annotations: annotations}
}

type TurnStatus string

const (
	TurnCompleted   TurnStatus = "completed"
	TurnInterrupted TurnStatus = "interrupted"
	TurnFailed      TurnStatus = "failed"
)

type TurnResult struct {
	TurnID string
	Status TurnStatus
	// Text is the full response when completed and the partial response
	// otherwise.
	Text string
	// Err is the failure reason of a failed turn.
	Err error

	AudioChunks   int
	AudioDuration time.Duration
	StartedAt     time.Time
	FinishedAt    time.Time
}

func completed(turnID, text string) TurnResult {
	return TurnResult{TurnID: turnID, Status: TurnCompleted, Text: text}
}

func interrupted(turnID, partialText string) TurnResult {
	return TurnResult{TurnID: turnID, Status: TurnInterrupted, Text: partialText}
}

func failed(turnID, partialText string, reason error) TurnResult {
	return TurnResult{TurnID: turnID, Status: TurnFailed, Text: partialText, Err: reason}
}
