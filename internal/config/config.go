// Package config loads the server configuration from a YAML file, the
// environment and an optional .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/llms"
	"github.com/koscakluka/ema-live/core/speechtotext"
	"github.com/koscakluka/ema-live/core/texttospeech"
	"github.com/spf13/viper"
)

const envPrefix = "EMA"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	LLM       ProviderConfig  `mapstructure:"llm"`
	TTS       ProviderConfig  `mapstructure:"tts"`
	STT       ProviderConfig  `mapstructure:"stt"`
	Bus       BusConfig       `mapstructure:"bus"`
	Rewards   RewardsConfig   `mapstructure:"rewards"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SessionConfig struct {
	Persona               string        `mapstructure:"persona"`
	DefaultSessionID      string        `mapstructure:"default_session_id"`
	GenerationTimeout     time.Duration `mapstructure:"generation_timeout"`
	Apology               string        `mapstructure:"apology"`
	PersonaAcknowledgment string        `mapstructure:"persona_acknowledgment"`
	TipStatus             string        `mapstructure:"tip_status"`
}

// ProviderConfig selects and configures a provider from one of the
// registries. Fields a provider does not use are ignored.
type ProviderConfig struct {
	Provider    string            `mapstructure:"provider"`
	APIKey      string            `mapstructure:"api_key"`
	BaseURL     string            `mapstructure:"base_url"`
	Model       string            `mapstructure:"model"`
	Voice       string            `mapstructure:"voice"`
	Language    string            `mapstructure:"language"`
	Temperature *float64          `mapstructure:"temperature"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	SampleRate  int               `mapstructure:"sample_rate"`
	Options     map[string]string `mapstructure:"options"`
}

type BusConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	URL             string          `mapstructure:"url"`
	Channels        []ChannelConfig `mapstructure:"channels"`
	PublishChannel  string          `mapstructure:"publish_channel"`
	ConnectAttempts uint64          `mapstructure:"connect_attempts"`
	DispatchTimeout time.Duration   `mapstructure:"dispatch_timeout"`
}

type ChannelConfig struct {
	Name string `mapstructure:"name"`
	// DefaultKind is the event type of payloads without one.
	DefaultKind string `mapstructure:"default_kind"`
}

type RewardsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	MintingKey      string        `mapstructure:"minting_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	DialAttempts    uint64        `mapstructure:"dial_attempts"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Ledger          string        `mapstructure:"ledger"`
	LedgerTTL       time.Duration `mapstructure:"ledger_ttl"`
	WatchTips       bool          `mapstructure:"watch_tips"`
	WatchInterval   time.Duration `mapstructure:"watch_interval"`
	ResolveNames    bool          `mapstructure:"resolve_names"`
	ENSRegistry     string        `mapstructure:"ens_registry"`
}

type TelemetryConfig struct {
	Traces         bool          `mapstructure:"traces"`
	Logs           bool          `mapstructure:"logs"`
	Metrics        bool          `mapstructure:"metrics"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":12393")
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.read_limit", 4<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("session.persona", "You are a cheerful live streamer chatting with your audience. Keep answers short and conversational.")
	v.SetDefault("session.default_session_id", "default")
	v.SetDefault("session.generation_timeout", 60*time.Second)
	v.SetDefault("session.apology", "")
	v.SetDefault("session.persona_acknowledgment", "")
	v.SetDefault("session.tip_status", "")

	for _, section := range []string{"llm", "tts", "stt"} {
		for _, key := range []string{"provider", "api_key", "base_url", "model", "voice", "language"} {
			v.SetDefault(section+"."+key, "")
		}
		v.SetDefault(section+".max_tokens", 0)
		v.SetDefault(section+".sample_rate", 0)
	}
	v.SetDefault("llm.provider", "scripted")
	v.SetDefault("tts.provider", "none")

	v.SetDefault("bus.enabled", false)
	v.SetDefault("bus.url", "redis://localhost:6379")
	v.SetDefault("bus.channels", []map[string]any{
		{"name": "vtuber_events"},
		{"name": "crypto_tips", "default_kind": string(events.KindTip)},
	})
	v.SetDefault("bus.publish_channel", "vtuber_events")
	v.SetDefault("bus.connect_attempts", 3)
	v.SetDefault("bus.dispatch_timeout", 10*time.Second)

	v.SetDefault("rewards.enabled", false)
	v.SetDefault("rewards.rpc_url", "")
	v.SetDefault("rewards.contract_address", "")
	v.SetDefault("rewards.minting_key", "")
	v.SetDefault("rewards.chain_id", 0)
	v.SetDefault("rewards.dial_attempts", 3)
	v.SetDefault("rewards.poll_interval", 5*time.Second)
	v.SetDefault("rewards.max_attempts", 12)
	v.SetDefault("rewards.ledger", "memory")
	v.SetDefault("rewards.ledger_ttl", 7*24*time.Hour)
	v.SetDefault("rewards.watch_tips", false)
	v.SetDefault("rewards.watch_interval", 5*time.Second)
	v.SetDefault("rewards.resolve_names", true)
	v.SetDefault("rewards.ens_registry", "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

	v.SetDefault("telemetry.traces", false)
	v.SetDefault("telemetry.logs", true)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.metric_interval", time.Minute)
}

// Load reads path, or config.yaml from the working directory or ./configs
// when path is empty. A missing default file is not an error. ${VAR}
// references in the file are expanded from the environment, and EMA_*
// variables override single keys, e.g. EMA_LLM_API_KEY.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = findDefault()
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.ReadConfig(bytes.NewReader([]byte(os.ExpandEnv(string(raw))))); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findDefault() string {
	for _, candidate := range []string{"config.yaml", filepath.Join("configs", "config.yaml")} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	if c.Session.DefaultSessionID == "" {
		errs = append(errs, errors.New("session.default_session_id is required"))
	}

	if c.Bus.Enabled {
		if c.Bus.URL == "" {
			errs = append(errs, errors.New("bus.url is required when the bus is enabled"))
		}
		if len(c.Bus.Channels) == 0 {
			errs = append(errs, errors.New("bus.channels must not be empty when the bus is enabled"))
		}
		for _, channel := range c.Bus.Channels {
			if channel.Name == "" {
				errs = append(errs, errors.New("bus channel without a name"))
			}
			if channel.DefaultKind != "" && !events.Kind(channel.DefaultKind).Valid() {
				errs = append(errs, fmt.Errorf("bus channel %s has unknown default kind %q", channel.Name, channel.DefaultKind))
			}
		}
	}

	if c.Rewards.Enabled {
		if c.Rewards.RPCURL == "" {
			errs = append(errs, errors.New("rewards.rpc_url is required when rewards are enabled"))
		}
		if c.Rewards.ContractAddress == "" {
			errs = append(errs, errors.New("rewards.contract_address is required when rewards are enabled"))
		}
		if c.Rewards.MintingKey == "" {
			errs = append(errs, errors.New("rewards.minting_key is required when rewards are enabled"))
		}
		if c.Rewards.MaxAttempts <= 0 {
			errs = append(errs, errors.New("rewards.max_attempts must be positive"))
		}
		if c.Rewards.Ledger == "redis" && !c.Bus.Enabled {
			errs = append(errs, errors.New("rewards.ledger redis needs the bus redis connection"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (p ProviderConfig) Engine() llms.ProviderConfig {
	return llms.ProviderConfig{
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Options:     p.Options,
	}
}

func (p ProviderConfig) Renderer() texttospeech.ProviderConfig {
	encoding := audio.GetDefaultEncodingInfo()
	if p.SampleRate > 0 {
		encoding.SampleRate = p.SampleRate
	}
	return texttospeech.ProviderConfig{
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		Voice:        p.Voice,
		Model:        p.Model,
		EncodingInfo: encoding,
		Options:      p.Options,
	}
}

func (p ProviderConfig) Transcriber() speechtotext.ProviderConfig {
	return speechtotext.ProviderConfig{
		APIKey:   p.APIKey,
		BaseURL:  p.BaseURL,
		Model:    p.Model,
		Language: p.Language,
		Options:  p.Options,
	}
}
