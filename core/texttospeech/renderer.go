// Package texttospeech describes how response text is turned into audio the
// client can play back.
package texttospeech

import (
	"context"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/internal/registry"
)

// Renderer synthesises speech for a piece of text. Renderers return a nil
// artifact and no error for text with nothing to say.
type Renderer interface {
	Render(ctx context.Context, text string) (*Artifact, error)
}

// Artifact is one rendered piece of speech.
type Artifact struct {
	Text     string
	Audio    []byte
	Encoding audio.EncodingInfo
	Duration time.Duration
}

// ProviderConfig is the provider-agnostic configuration handed to renderer
// factories.
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Voice        string
	Model        string
	EncodingInfo audio.EncodingInfo
	Options      map[string]string
}

var providers = registry.New[ProviderConfig, Renderer]()

func Register(name string, factory func(ProviderConfig) (Renderer, error)) {
	providers.Register(name, factory)
}

func New(name string, config ProviderConfig) (Renderer, error) {
	return providers.New(name, config)
}

func Providers() []string { return providers.Names() }

// Silent is a renderer that never produces audio, used when a session has no
// audio sink.
type Silent struct{}

func (Silent) Render(context.Context, string) (*Artifact, error) { return nil, nil }

func init() {
	Register("none", func(ProviderConfig) (Renderer, error) { return Silent{}, nil })
}
