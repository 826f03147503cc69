// Package speechtotext turns recorded client audio into prompt text.
package speechtotext

import (
	"context"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/internal/registry"
)

// Transcriber transcribes one complete utterance. An utterance without
// recognisable speech yields an empty transcript and no error.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, encoding audio.EncodingInfo) (string, error)
}

type ProviderConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Options  map[string]string
}

var providers = registry.New[ProviderConfig, Transcriber]()

func Register(name string, factory func(ProviderConfig) (Transcriber, error)) {
	providers.Register(name, factory)
}

func New(name string, config ProviderConfig) (Transcriber, error) {
	return providers.New(name, config)
}

func Providers() []string { return providers.Names() }
