package rewards

import (
	"context"
	"sync"
	"time"

	"github.com/koscakluka/ema-live/core/events"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusTimedOut || s == StatusFailed
}

// Task tracks the reward for one tip. Only the pipeline moves it forward,
// everyone else observes.
type Task struct {
	ID   string
	Tip  events.Tip
	Tier Tier

	mu     sync.Mutex
	status Status
	txHash string
	err    error
	polls  int

	done chan struct{}
}

func newTask(id string, tip events.Tip) *Task {
	return &Task{
		ID:     id,
		Tip:    tip,
		Tier:   TierFor(tip.Amount),
		status: StatusPending,
		done:   make(chan struct{}),
	}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) TxHash() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txHash
}

// Err is the failure reason of a failed task.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is terminal or ctx is done.
func (t *Task) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		return t.Status(), nil
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
}

func (t *Task) submitted(txHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusSubmitted
	t.txHash = txHash
}

func (t *Task) finish(status Status, err error, polls int) {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.status = status
	t.err = err
	t.polls = polls
	t.mu.Unlock()
	close(t.done)
}

// TaskRecord is the persisted summary of a finished task.
type TaskRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId"`
	Tipper        string          `json:"tipper"`
	WalletAddress string          `json:"walletAddress"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Tier          string          `json:"tier"`
	Status        Status          `json:"status"`
	TxHash        string          `json:"txHash,omitempty"`
	Error         string          `json:"error,omitempty"`
	Polls         int             `json:"polls"`
	FinishedAt    time.Time       `json:"finishedAt"`
}

func (t *Task) Record() TaskRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := TaskRecord{
		ID:            t.ID,
		SessionID:     t.Tip.SessionID(),
		Tipper:        t.Tip.Tipper,
		WalletAddress: t.Tip.WalletAddress,
		Amount:        t.Tip.Amount,
		Currency:      t.Tip.Currency,
		Tier:          t.Tier.String(),
		Status:        t.status,
		TxHash:        t.txHash,
		Polls:         t.polls,
		FinishedAt:    time.Now(),
	}
	if t.err != nil {
		record.Error = t.err.Error()
	}
	return record
}
