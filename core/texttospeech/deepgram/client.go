// Package deepgram renders speech through the Deepgram streaming speak API.
package deepgram

import (
	"fmt"
	"slices"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/texttospeech"
)

const defaultBaseURL = "wss://api.deepgram.com"

func init() {
	texttospeech.Register("deepgram", func(config texttospeech.ProviderConfig) (texttospeech.Renderer, error) {
		opts := []ClientOption{WithBaseURL(config.BaseURL)}
		if !config.EncodingInfo.IsZero() {
			opts = append(opts, WithEncodingInfo(config.EncodingInfo))
		}
		return NewTextToSpeechClient(config.APIKey, deepgramVoice(config.Voice), opts...)
	})
}

type TextToSpeechClient struct {
	apiKey       string
	baseURL      string
	voice        deepgramVoice
	encodingInfo audio.EncodingInfo
}

type ClientOption func(*TextToSpeechClient)

// WithBaseURL overrides the websocket endpoint, empty keeps the default.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *TextToSpeechClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) ClientOption {
	return func(c *TextToSpeechClient) { c.encodingInfo = encodingInfo }
}

func NewTextToSpeechClient(apiKey string, voice deepgramVoice, opts ...ClientOption) (*TextToSpeechClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}
	if voice == "" {
		voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice %q", voice)
	}

	client := &TextToSpeechClient{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		voice:        voice,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}
