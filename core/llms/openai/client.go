// Package openai streams chat completions from any OpenAI compatible
// endpoint. Groq, Hugging Face inference endpoints and Ollama are registered
// as aliases with their own default base URLs.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-live/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	GroqBaseURL    = "https://api.groq.com/openai/v1"
	OllamaBaseURL  = "http://localhost:11434/v1"
)

func init() {
	llms.Register("openai", factory(DefaultBaseURL))
	llms.Register("groq", factory(GroqBaseURL))
	llms.Register("ollama", factory(OllamaBaseURL))
	llms.Register("hfendpoint", factory(""))
}

func factory(defaultBaseURL string) func(llms.ProviderConfig) (llms.Engine, error) {
	return func(config llms.ProviderConfig) (llms.Engine, error) {
		if config.BaseURL == "" {
			config.BaseURL = defaultBaseURL
		}
		return NewClient(config)
	}
}

type Client struct {
	apiKey  string
	baseURL string
	model   string

	defaults   llms.GenerateOptions
	httpClient *http.Client
}

func NewClient(config llms.ProviderConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: normaliseBaseURL(config.BaseURL),
		model:   config.Model,
		defaults: llms.GenerateOptions{
			Temperature: config.Temperature,
			MaxTokens:   config.MaxTokens,
		},
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}, nil
}

// normaliseBaseURL accepts both ".../v1" and ".../v1/" style endpoints, the
// same way HF endpoints are configured.
func normaliseBaseURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	return baseURL
}

func (c *Client) Generate(_ context.Context, prompt llms.Prompt, opts ...llms.GenerateOption) llms.Stream {
	options := c.defaults
	for _, opt := range opts {
		opt(&options)
	}

	messages, err := toMessages(prompt)
	if err != nil {
		return llms.ErrorStream{Err: fmt.Errorf("failed to convert prompt: %w", err)}
	}

	return &Stream{
		client:   c,
		messages: messages,
		options:  options,
	}
}
