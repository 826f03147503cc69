// Package deepgram transcribes finished utterances through the Deepgram
// listen websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/speechtotext"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	scopeName = "github.com/koscakluka/ema-live/core/speechtotext/deepgram"

	defaultBaseURL  = "wss://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en-US"

	// Deepgram accepts at most this much audio per websocket frame.
	maxFrameSize = 32 * 1024
)

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

func init() {
	speechtotext.Register("deepgram", func(config speechtotext.ProviderConfig) (speechtotext.Transcriber, error) {
		return NewTranscriptionClient(config)
	})
}

type TranscriptionClient struct {
	apiKey   string
	baseURL  string
	model    string
	language string
}

func NewTranscriptionClient(config speechtotext.ProviderConfig) (*TranscriptionClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	client := &TranscriptionClient{
		apiKey:   config.APIKey,
		baseURL:  config.BaseURL,
		model:    config.Model,
		language: config.Language,
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.model == "" {
		client.model = defaultModel
	}
	if client.language == "" {
		client.language = defaultLanguage
	}
	return client, nil
}

// Transcribe streams the utterance to Deepgram, asks it to close the stream
// and joins every final result it sends back before closing.
func (s *TranscriptionClient) Transcribe(ctx context.Context, pcm []byte, encoding audio.EncodingInfo) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(pcm)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if len(pcm) == 0 {
		return "", nil
	}

	deepgramEncoding, err := convertEncoding(encoding)
	if err != nil {
		return "", fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := s.connectWebsocket(ctx, *deepgramEncoding)
	if err != nil {
		return "", fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for start := 0; start < len(pcm); start += maxFrameSize {
		end := min(start+maxFrameSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			return "", fmt.Errorf("failed to write to deepgram client: %w", errors.Join(err, context.Cause(ctx)))
		}
	}
	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return "", fmt.Errorf("failed to close deepgram stream: %w", err)
	}

	var transcript []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", context.Cause(ctx)
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", fmt.Errorf("failed to read deepgram websocket message: %w", err)
			}
			break
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		if segment, done := processMessage(ctx, msg); done {
			break
		} else if segment != "" {
			transcript = append(transcript, segment)
		}
	}

	return strings.Join(transcript, " "), nil
}

// processMessage returns the final transcript segment carried by msg, if any,
// and whether Deepgram has finished with the stream.
func processMessage(ctx context.Context, msg []byte) (string, bool) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.WarnContext(ctx, "failed to unmarshal deepgram message", "error", err)
		return "", false
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.WarnContext(ctx, "failed to unmarshal deepgram result", "error", err)
			return "", false
		}
		if msgResp.IsFinal && len(msgResp.Channel.Alternatives) > 0 {
			return strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript), false
		}
	case api.TypeMetadataResponse:
		// Sent once all audio has been processed after CloseStream.
		return "", true
	}
	return "", false
}

func (s *TranscriptionClient) connectWebsocket(ctx context.Context, encoding encodingInfo) (*websocket.Conn, error) {
	listenUrl, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	listenUrl.Path = strings.TrimRight(listenUrl.Path, "/") + "/v1/listen"

	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", s.model)
	queryParams.Set("language", s.language)
	queryParams.Set("smart_format", "true")
	listenUrl.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}
