package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/eventbus"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/llms"
	"github.com/koscakluka/ema-live/core/rewards"
	"github.com/koscakluka/ema-live/core/rewards/ethereum"
	"github.com/koscakluka/ema-live/core/rewards/ledger"
	"github.com/koscakluka/ema-live/core/speechtotext"
	"github.com/koscakluka/ema-live/core/texttospeech"
	"github.com/koscakluka/ema-live/core/transport"
	"github.com/koscakluka/ema-live/internal/config"
	"github.com/koscakluka/ema-live/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-live/cmd/ema-live")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve client websockets and route bus events to sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "ema-live",
		ServiceVersion: version,
		Traces:         cfg.Telemetry.Traces,
		Logs:           cfg.Telemetry.Logs,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		err = errors.Join(err, shutdownTelemetry(context.Background()))
	}()

	engine, renderer, transcriber, err := newProviders(cfg)
	if err != nil {
		return err
	}

	// Both the bus and the chain are optional: when they cannot be reached
	// the server keeps serving conversations without them.
	var bus *eventbus.Bus
	if cfg.Bus.Enabled {
		bus, err = eventbus.Connect(ctx, eventbus.ConnectOptions{URL: cfg.Bus.URL, Attempts: cfg.Bus.ConnectAttempts})
		if err != nil {
			logger.WarnContext(ctx, "continuing without the event bus", "error", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	pipeline, rpc := newRewardPipeline(ctx, cfg, bus)
	defer pipeline.Close()
	if rpc != nil {
		defer rpc.Close()
	}

	registry := eventbus.NewRegistry()
	handler := transport.Handler{
		Engine:              engine,
		Renderer:            renderer,
		Transcriber:         transcriber,
		Sessions:            registry,
		Persona:             cfg.Session.Persona,
		OrchestratorOptions: orchestratorOptions(cfg.Session),
		WriteTimeout:        cfg.Server.WriteTimeout,
		ReadLimit:           cfg.Server.ReadLimit,
	}

	mux := http.NewServeMux()
	mux.Handle(transport.ClientPath, handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(mux, "ema-live"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.InfoContext(ctx, "listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		registry.CloseAll()
		err := server.Shutdown(shutdownCtx)
		if !registry.Wait(shutdownCtx) {
			logger.Warn("sessions still open after shutdown timeout", "sessions", registry.Count())
		}
		return err
	})

	if bus != nil {
		router := newRouter(cfg, registry, pipeline)
		channels := make([]string, 0, len(cfg.Bus.Channels))
		for _, channel := range cfg.Bus.Channels {
			channels = append(channels, channel.Name)
		}

		subscription, err := bus.Subscribe(ctx, channels...)
		if err != nil {
			logger.WarnContext(ctx, "continuing without bus events", "error", err)
		} else {
			group.Go(func() error {
				defer subscription.Close()
				return router.Run(ctx, subscription)
			})
		}
	}

	if cfg.Rewards.WatchTips && rpc != nil && bus != nil {
		watcherOpts := []ethereum.WatcherOption{ethereum.WithWatchInterval(cfg.Rewards.WatchInterval)}
		if cfg.Rewards.ResolveNames {
			resolver, err := ethereum.NewENSResolver(rpc, cfg.Rewards.ENSRegistry)
			if err != nil {
				return err
			}
			watcherOpts = append(watcherOpts, ethereum.WithNameResolver(resolver))
		}

		watcher, err := ethereum.NewWatcher(rpc, cfg.Rewards.ContractAddress,
			bus.Publisher(eventbus.DefaultTipsChannel), cfg.Session.DefaultSessionID, watcherOpts...)
		if err != nil {
			return err
		}
		group.Go(func() error { return watcher.Run(ctx) })
	}

	return group.Wait()
}

func newProviders(cfg *config.Config) (llms.Engine, texttospeech.Renderer, speechtotext.Transcriber, error) {
	engine, err := llms.New(cfg.LLM.Provider, cfg.LLM.Engine())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create llm %q: %w", cfg.LLM.Provider, err)
	}

	var renderer texttospeech.Renderer
	if cfg.TTS.Provider != "" && cfg.TTS.Provider != "none" {
		if renderer, err = texttospeech.New(cfg.TTS.Provider, cfg.TTS.Renderer()); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create tts %q: %w", cfg.TTS.Provider, err)
		}
	}

	var transcriber speechtotext.Transcriber
	if cfg.STT.Provider != "" && cfg.STT.Provider != "none" {
		if transcriber, err = speechtotext.New(cfg.STT.Provider, cfg.STT.Transcriber()); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create stt %q: %w", cfg.STT.Provider, err)
		}
	}

	return engine, renderer, transcriber, nil
}

func orchestratorOptions(cfg config.SessionConfig) []orchestration.OrchestratorOption {
	opts := []orchestration.OrchestratorOption{
		orchestration.WithApology(cfg.Apology),
		orchestration.WithPersonaAcknowledgment(cfg.PersonaAcknowledgment),
	}
	if cfg.GenerationTimeout > 0 {
		opts = append(opts, orchestration.WithTurnTimeout(cfg.GenerationTimeout))
	}
	if cfg.TipStatus != "" {
		opts = append(opts, orchestration.WithTipStatus(cfg.TipStatus))
	}
	return opts
}

// newRewardPipeline always returns a pipeline. It is unavailable, and tips
// are only acknowledged in chat, when rewards are disabled or the chain
// cannot be reached.
func newRewardPipeline(ctx context.Context, cfg *config.Config, bus *eventbus.Bus) (*rewards.Pipeline, *ethclient.Client) {
	if !cfg.Rewards.Enabled {
		return rewards.NewPipeline(nil), nil
	}

	client, rpc, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:          cfg.Rewards.RPCURL,
		ContractAddress: cfg.Rewards.ContractAddress,
		PrivateKey:      cfg.Rewards.MintingKey,
		ChainID:         cfg.Rewards.ChainID,
		DialAttempts:    cfg.Rewards.DialAttempts,
	})
	if err != nil {
		logger.WarnContext(ctx, "rewards unavailable", "error", err)
		return rewards.NewPipeline(nil), nil
	}
	logger.InfoContext(ctx, "rewards enabled", "minter", client.From().Hex())

	opts := []rewards.Option{
		rewards.WithPollInterval(cfg.Rewards.PollInterval),
		rewards.WithMaxAttempts(cfg.Rewards.MaxAttempts),
	}

	ledgerOpts := []ledger.Option{ledger.WithTTL(cfg.Rewards.LedgerTTL)}
	if bus != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithRedisClient(bus.Client()))
	}
	taskLedger, err := ledger.New(ledger.Type(cfg.Rewards.Ledger), ledgerOpts...)
	if err != nil {
		logger.WarnContext(ctx, "reward ledger unavailable, falling back to memory", "ledger", cfg.Rewards.Ledger, "error", err)
		taskLedger = ledger.NewMemory()
	}
	opts = append(opts, rewards.WithLedger(taskLedger))

	return rewards.NewPipeline(client, opts...), rpc
}

func newRouter(cfg *config.Config, registry *eventbus.Registry, pipeline *rewards.Pipeline) *eventbus.Router {
	opts := []eventbus.RouterOption{
		eventbus.WithRewards(pipeline),
		eventbus.WithDefaultSessionID(cfg.Session.DefaultSessionID),
		eventbus.WithDispatchTimeout(cfg.Bus.DispatchTimeout),
	}
	for _, channel := range cfg.Bus.Channels {
		if channel.DefaultKind != "" {
			opts = append(opts, eventbus.WithChannelKind(channel.Name, events.Kind(channel.DefaultKind)))
		}
	}
	return eventbus.NewRouter(registry, opts...)
}
