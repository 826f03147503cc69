// Package elevenlabs renders speech through the ElevenLabs text-to-speech
// HTTP API, requesting raw PCM so durations can be derived from the size.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/texttospeech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	scopeName = "github.com/koscakluka/ema-live/core/texttospeech/elevenlabs"

	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoice   = "JBFqnCBsd6RMkjVDRZzb"
)

var tracer = otel.Tracer(scopeName)

var supportedSampleRates = []int{16000, 22050, 24000, 44100}

func init() {
	texttospeech.Register("elevenlabs", func(config texttospeech.ProviderConfig) (texttospeech.Renderer, error) {
		return NewClient(config)
	})
}

type Client struct {
	apiKey     string
	baseURL    string
	voice      string
	model      string
	sampleRate int

	httpClient *http.Client
}

func NewClient(config texttospeech.ProviderConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key not found")
	}

	client := &Client{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		voice:      config.Voice,
		model:      config.Model,
		sampleRate: config.EncodingInfo.SampleRate,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.voice == "" {
		client.voice = defaultVoice
	}
	if client.model == "" {
		client.model = defaultModel
	}
	if client.sampleRate == 0 {
		client.sampleRate = audio.DefaultSampleRate
	}
	if format := config.EncodingInfo.Format; format != "" && format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported encoding %q, only linear16 is available", format)
	}

	if !slices.Contains(supportedSampleRates, client.sampleRate) {
		return nil, fmt.Errorf("unsupported sample rate %d", client.sampleRate)
	}

	return client, nil
}

type requestBody struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (c *Client) Render(ctx context.Context, text string) (_ *texttospeech.Artifact, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "render speech")
	defer span.End()
	span.SetAttributes(attribute.String("voice", c.voice), attribute.String("model", c.model))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	body, err := json.Marshal(requestBody{Text: text, ModelID: c.model})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	query := url.Values{"output_format": {"pcm_" + strconv.Itoa(c.sampleRate)}}
	endpoint := c.baseURL + "/v1/text-to-speech/" + url.PathEscape(c.voice) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading audio: %w", err)
	}

	encoding := audio.EncodingInfo{SampleRate: c.sampleRate, Format: audio.EncodingLinear16}
	return &texttospeech.Artifact{
		Text:     text,
		Audio:    pcm,
		Encoding: encoding,
		Duration: encoding.Duration(len(pcm)),
	}, nil
}
