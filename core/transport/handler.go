package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/eventbus"
	"github.com/koscakluka/ema-live/core/llms"
	"github.com/koscakluka/ema-live/core/speechtotext"
	"github.com/koscakluka/ema-live/core/texttospeech"
)

const (
	ClientPath        = "/client-ws"
	sessionIDParam    = "session_id"
	connectedStatus   = "Connection established"
	defaultReadLimit  = 4 << 20
	closeWriteTimeout = time.Second
)

// Registrar makes sessions reachable for bus events.
type Registrar interface {
	Register(sessionID string, session eventbus.Session) (unregister func())
}

// Handler accepts client websockets. Every connection owns exactly one
// session, created on connect and closed on disconnect.
type Handler struct {
	Engine      llms.Engine
	Renderer    texttospeech.Renderer
	Transcriber speechtotext.Transcriber
	Sessions    Registrar

	Persona             string
	OrchestratorOptions []orchestration.OrchestratorOption

	WriteTimeout time.Duration
	ReadLimit    int64
	CheckOrigin  func(*http.Request) bool
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checkOrigin := h.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	readLimit := h.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	sessionID := r.URL.Query().Get(sessionIDParam)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// The request context ends when ServeHTTP returns, so the session gets
	// its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	connectionsGauge.Add(ctx, 1)
	defer connectionsGauge.Add(ctx, -1)

	if err := h.serve(ctx, conn, sessionID); err != nil {
		logger.WarnContext(ctx, "client connection ended with error", "session", sessionID, "error", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
}

func (h Handler) serve(ctx context.Context, conn *websocket.Conn, sessionID string) error {
	channel := NewChannel(conn, h.WriteTimeout)
	if err := channel.SendStatus(ctx, orchestration.StatusFullText, connectedStatus); err != nil {
		return err
	}
	if err := channel.SendSessionID(ctx, sessionID); err != nil {
		return err
	}

	opts := h.OrchestratorOptions
	if h.Renderer != nil {
		opts = append(opts[:len(opts):len(opts)], orchestration.WithSpeech(h.Renderer))
	}
	orchestrator := orchestration.NewOrchestrator(orchestration.NewSession(sessionID, h.Persona), h.Engine, channel, opts...)

	go orchestrator.Run(ctx)
	defer orchestrator.Close()

	// A session closed from elsewhere, e.g. on shutdown, ends the connection.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-orchestrator.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if h.Sessions != nil {
		unregister := h.Sessions.Register(sessionID, orchestrator)
		defer unregister()
	}
	logger.InfoContext(ctx, "client connected", "session", sessionID)
	defer logger.InfoContext(ctx, "client disconnected", "session", sessionID)

	if err := channel.SendStatus(ctx, orchestration.StatusControl, orchestration.ControlStartMic); err != nil {
		return err
	}

	err := orchestrator.ServeClient(ctx, channel, h.Transcriber)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return nil
		}
	}
	return err
}
