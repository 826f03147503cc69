package llms

import (
	"context"

	"github.com/koscakluka/ema-live/internal/registry"
)

// Engine turns a prompt into a stream of text increments.
type Engine interface {
	Generate(ctx context.Context, prompt Prompt, opts ...GenerateOption) Stream
}

// Reconciler is implemented by engines that keep their own conversation
// state and need to be told what the listener actually heard when a response
// was cut off.
type Reconciler interface {
	Reconcile(ctx context.Context, heardText string)
}

// ProviderConfig is the provider-agnostic configuration handed to engine
// factories.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
	Options     map[string]string
}

var providers = registry.New[ProviderConfig, Engine]()

// Register makes an engine constructor available under name. Provider
// packages call it from init.
func Register(name string, factory func(ProviderConfig) (Engine, error)) {
	providers.Register(name, factory)
}

func New(name string, config ProviderConfig) (Engine, error) {
	return providers.New(name, config)
}

func Providers() []string { return providers.Names() }
