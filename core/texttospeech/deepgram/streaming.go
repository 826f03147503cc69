package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-live/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type websocketMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

func sendTextMsg(text string) websocketMessage {
	return websocketMessage{Type: "Speak", Text: text}
}

// Render speaks text over a fresh socket, collects the audio until Deepgram
// confirms the flush and returns it with its play duration.
func (c *TextToSpeechClient) Render(ctx context.Context, text string) (_ *texttospeech.Artifact, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "render speech")
	defer span.End()
	span.SetAttributes(attribute.String("voice", string(c.voice)))
	span.SetAttributes(attribute.Int("text.length", len(text)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	conn, err := c.connectWebsocket(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, msg := range []websocketMessage{sendTextMsg(text), flushMsg} {
		if err := conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("failed to write to websocket: %w", errors.Join(err, context.Cause(ctx)))
		}
	}

	var pcm bytes.Buffer
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, fmt.Errorf("failed to read from websocket: %w", err)
		}

		if msgType == websocket.BinaryMessage {
			pcm.Write(msg)
			continue
		}

		var parsedMsg websocketMessage
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			logger.WarnContext(ctx, "failed to unmarshal deepgram message", "error", err)
			continue
		}
		if parsedMsg.Type == "Flushed" {
			break
		}
	}

	if err := conn.WriteJSON(closeMsg); err != nil {
		logger.DebugContext(ctx, "failed to send close message to deepgram websocket", "error", err)
	}

	span.SetAttributes(attribute.Int("audio.bytes", pcm.Len()))
	return &texttospeech.Artifact{
		Text:     text,
		Audio:    pcm.Bytes(),
		Encoding: c.encodingInfo,
		Duration: c.encodingInfo.Duration(pcm.Len()),
	}, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", c.encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(c.encodingInfo.SampleRate))
	urlValues.Set("model", string(c.voice))
	urlValues.Set("container", "none")
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/v1/speak"
	endpoint.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}
