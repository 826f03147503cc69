// Package transport connects browser clients to sessions over websockets.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-live/core"
)

const DefaultWriteTimeout = 10 * time.Second

// Channel is a client endpoint over a websocket connection. Writes may come
// from any goroutine, reads from a single one.
type Channel struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

var _ orchestration.ClientEndpoint = (*Channel)(nil)

func NewChannel(conn *websocket.Conn, writeTimeout time.Duration) *Channel {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Channel{conn: conn, writeTimeout: writeTimeout}
}

func (c *Channel) SendStatus(ctx context.Context, kind orchestration.StatusKind, text string) error {
	return c.write(ctx, serverMessage{Type: string(kind), Text: text})
}

func (c *Channel) SendAudioPayload(ctx context.Context, payload orchestration.AudioPayload) error {
	return c.write(ctx, serverMessage{
		Type:       typeAudio,
		Text:       payload.Text,
		Audio:      payload.Audio,
		Format:     payload.Encoding.Format.Name(),
		SampleRate: payload.Encoding.SampleRate,
		Duration:   payload.Duration.Seconds(),
	})
}

func (c *Channel) SendSessionID(ctx context.Context, sessionID string) error {
	return c.write(ctx, serverMessage{Type: typeSessionID, Text: sessionID})
}

func (c *Channel) write(ctx context.Context, msg serverMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReceiveEvent reads until the client sends a signal the session
// understands. Unknown and malformed messages are logged and skipped.
func (c *Channel) ReceiveEvent(ctx context.Context) (orchestration.ClientSignal, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		signal, err := decodeClientMessage(data)
		if err != nil {
			logger.DebugContext(ctx, "skipping client message", "error", err)
			continue
		}
		return signal, nil
	}
}

var errUnsupportedMessage = errors.New("unsupported client message")

func decodeClientMessage(data []byte) (orchestration.ClientSignal, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid client message: %w", err)
	}

	switch msg.Type {
	case typeInterruptSignal:
		return orchestration.InterruptSignal{HeardText: msg.Text}, nil

	case typeMicAudioData:
		samples, err := decodeSamples(msg.Audio)
		if err != nil {
			return nil, err
		}
		return orchestration.RawAudioChunk{Samples: samples}, nil

	case typeMicAudioEnd:
		return orchestration.TurnSignal{AudioEnd: true}, nil

	case typeTextInput:
		if msg.Text == nil {
			return nil, fmt.Errorf("%s without text", msg.Type)
		}
		return orchestration.TurnSignal{Text: *msg.Text}, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnsupportedMessage, msg.Type)
}
