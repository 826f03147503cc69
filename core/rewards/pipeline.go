// Package rewards mints on-chain rewards for tips that carry a wallet
// address. Tasks run on their own and never hold up the conversation.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 12
)

var (
	ErrTransactionReverted = errors.New("transaction reverted")
	errReceiptPending      = errors.New("receipt pending")
)

// Ledger keeps finished tasks for later inspection.
type Ledger interface {
	Record(ctx context.Context, record TaskRecord) error
}

type Pipeline struct {
	chain        ChainClient
	ledger       Ledger
	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time
	onFinish     func(*Task)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Pipeline)

func WithPollInterval(interval time.Duration) Option {
	return func(p *Pipeline) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithMaxAttempts bounds the number of receipt polls, including the first.
func WithMaxAttempts(attempts int) Option {
	return func(p *Pipeline) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

func WithLedger(ledger Ledger) Option {
	return func(p *Pipeline) { p.ledger = ledger }
}

// WithFinishCallback is called once per task after it reached a terminal
// status.
func WithFinishCallback(callback func(*Task)) Option {
	return func(p *Pipeline) { p.onFinish = callback }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline. A nil chain client yields a pipeline that
// reports itself unavailable and creates no tasks.
func NewPipeline(chain ChainClient, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		chain:        chain,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Available() bool { return p != nil && p.chain != nil }

// Process starts the reward task for tip and returns immediately. No task is
// created, and no chain call made, for tips without a wallet address or when
// the pipeline is unavailable.
func (p *Pipeline) Process(ctx context.Context, tip events.Tip) (*Task, bool) {
	if !tip.HasWallet() {
		return nil, false
	}
	if !p.Available() {
		logger.WarnContext(ctx, "reward pipeline unavailable, skipping reward", "session", tip.SessionID(), "tipper", tip.Tipper)
		return nil, false
	}

	task := newTask(uuid.NewString(), tip)

	// The task outlives the caller but not the pipeline.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(p.ctx, cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer stop()
		p.run(taskCtx, task)
	}()

	return task, true
}

// Close cancels every running task and waits for them to finish.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, task *Task) {
	ctx, span := tracer.Start(ctx, "process reward")
	defer span.End()
	span.SetAttributes(
		attribute.String("reward.id", task.ID),
		attribute.String("reward.tier", task.Tier.String()),
		attribute.String("session.id", task.Tip.SessionID()),
	)

	status, polls, err := p.mint(ctx, task)
	task.finish(status, err, polls)

	span.SetAttributes(attribute.String("reward.status", string(status)), attribute.Int("reward.polls", polls))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	tasksCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	if polls > 0 {
		pollsHistogram.Record(ctx, int64(polls))
	}

	logArgs := []any{"task", task.ID, "session", task.Tip.SessionID(), "tier", task.Tier.String(), "status", status, "tx", task.TxHash()}
	switch status {
	case StatusConfirmed:
		logger.InfoContext(ctx, "reward confirmed", logArgs...)
	default:
		logger.WarnContext(ctx, "reward not confirmed", append(logArgs, "error", err)...)
	}

	if p.ledger != nil {
		if err := p.ledger.Record(context.WithoutCancel(ctx), task.Record()); err != nil {
			logger.WarnContext(ctx, "failed to record reward", "task", task.ID, "error", err)
		}
	}
	if p.onFinish != nil {
		p.onFinish(task)
	}
}

func (p *Pipeline) mint(ctx context.Context, task *Task) (Status, int, error) {
	txHash, err := p.chain.SubmitMintTransaction(ctx, task.Tip.WalletAddress, task.Tier, p.now())
	if err != nil {
		return StatusFailed, 0, fmt.Errorf("failed to submit mint transaction: %w", err)
	}
	task.submitted(txHash)

	polls := 0
	backoff := retry.WithMaxRetries(uint64(p.maxAttempts-1), retry.NewConstant(p.pollInterval))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		polls++
		receipt, err := p.chain.TransactionReceipt(ctx, txHash)
		if err != nil {
			logger.DebugContext(ctx, "receipt lookup failed", "task", task.ID, "tx", txHash, "error", err)
			return retry.RetryableError(fmt.Errorf("%w: %w", errReceiptPending, err))
		}

		switch receipt {
		case ReceiptSuccess:
			return nil
		case ReceiptReverted:
			return ErrTransactionReverted
		default:
			return retry.RetryableError(errReceiptPending)
		}
	})

	switch {
	case err == nil:
		return StatusConfirmed, polls, nil
	case errors.Is(err, errReceiptPending):
		return StatusTimedOut, polls, fmt.Errorf("not confirmed after %d polls: %w", polls, err)
	default:
		return StatusFailed, polls, err
	}
}
