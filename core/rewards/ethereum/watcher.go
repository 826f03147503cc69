package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/shopspring/decimal"
)

const (
	DefaultWatchInterval = 5 * time.Second
	weiExponent          = -18
)

type LogBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query geth.FilterQuery) ([]types.Log, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Watcher turns TipReceived logs of the tip contract into tip events on the
// bus.
type Watcher struct {
	backend   LogBackend
	contract  common.Address
	publisher Publisher
	sessionID string
	interval  time.Duration
	currency  string

	resolver NameResolver

	lastBlock *uint64
	// published is the last log of an unfinished block range that reached
	// the bus.
	published *logPosition
}

type logPosition struct {
	block uint64
	index uint
}

func positionOf(log types.Log) logPosition {
	return logPosition{block: log.BlockNumber, index: log.Index}
}

func (p logPosition) after(other logPosition) bool {
	return p.block > other.block || (p.block == other.block && p.index > other.index)
}

type WatcherOption func(*Watcher)

func WithWatchInterval(interval time.Duration) WatcherOption {
	return func(w *Watcher) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithStartBlock makes the watcher pick up logs after block instead of
// after the head at startup.
func WithStartBlock(block uint64) WatcherOption {
	return func(w *Watcher) { w.lastBlock = &block }
}

// WithNameResolver names tippers that left no username after their
// address.
func WithNameResolver(resolver NameResolver) WatcherOption {
	return func(w *Watcher) { w.resolver = resolver }
}

func NewWatcher(backend LogBackend, contractAddress string, publisher Publisher, sessionID string, opts ...WatcherOption) (*Watcher, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContract, contractAddress)
	}

	w := &Watcher{
		backend:   backend,
		contract:  common.HexToAddress(contractAddress),
		publisher: publisher,
		sessionID: sessionID,
		interval:  DefaultWatchInterval,
		currency:  "ETH",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls for new logs until ctx is done. Failed polls are logged and
// retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WarnContext(ctx, "failed to poll tip logs", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll publishes every tip logged since the previous poll and reports how
// many were published.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	head, err := w.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch block number: %w", err)
	}
	if w.lastBlock == nil {
		w.lastBlock = &head
		return 0, nil
	}
	if head <= *w.lastBlock {
		return 0, nil
	}

	logs, err := w.backend.FilterLogs(ctx, geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(*w.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.contract},
		Topics:    [][]common.Hash{{parsedABI.Events[tipReceivedEvent].ID}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to filter logs: %w", err)
	}

	published := 0
	for _, log := range logs {
		position := positionOf(log)
		if w.published != nil && !position.after(*w.published) {
			continue
		}

		tip, err := w.decode(log)
		if err != nil {
			logger.WarnContext(ctx, "skipping undecodable tip log", "tx", log.TxHash.Hex(), "error", err)
			w.published = &position
			continue
		}
		if tip.Tipper == "" {
			tip.Tipper = w.lookupName(ctx, common.HexToAddress(tip.WalletAddress))
		}
		if err := w.publisher.Publish(ctx, tip); err != nil {
			// The rest of the range is retried on the next poll.
			return published, fmt.Errorf("failed to publish tip: %w", err)
		}
		w.published = &position
		published++
	}

	w.lastBlock = &head
	w.published = nil
	return published, nil
}

func (w *Watcher) lookupName(ctx context.Context, address common.Address) string {
	if w.resolver == nil {
		return ""
	}
	name, err := w.resolver.LookupName(ctx, address)
	if err != nil {
		logger.DebugContext(ctx, "failed to look up tipper name", "address", address.Hex(), "error", err)
		return ""
	}
	return name
}

func (w *Watcher) decode(log types.Log) (events.Tip, error) {
	var decoded struct {
		Tipper   common.Address
		Amount   *big.Int
		Username string
	}
	if err := parsedABI.UnpackIntoInterface(&decoded, tipReceivedEvent, log.Data); err != nil {
		return events.Tip{}, err
	}

	tip := events.NewTip(w.sessionID, decimal.NewFromBigInt(decoded.Amount, weiExponent), w.currency, decoded.Username)
	tip.WalletAddress = decoded.Tipper.Hex()
	return tip, nil
}
