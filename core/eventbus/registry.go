package eventbus

import (
	"context"
	"sync"

	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/events"
)

// Session is the part of a session orchestrator the router drives.
type Session interface {
	Interrupt(ctx context.Context, heardText *string) error
	SendPrompt(ctx context.Context, prompt string) (<-chan orchestration.TurnResult, error)
	ChangePersona(ctx context.Context, persona string) (<-chan orchestration.TurnResult, error)
	ReactToTip(ctx context.Context, tip events.Tip) (<-chan orchestration.TurnResult, error)
	Close()
}

var _ Session = (*orchestration.Orchestrator)(nil)

// Registry maps session ids to live sessions. Registering an id again
// replaces, and closes, the previous session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registeredSession
	wg       sync.WaitGroup
}

type registeredSession struct {
	session Session
	once    sync.Once
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registeredSession)}
}

func (r *Registry) Register(sessionID string, session Session) (unregister func()) {
	entry := &registeredSession{session: session}

	r.mu.Lock()
	old := r.sessions[sessionID]
	r.sessions[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		logger.Warn("session id registered twice, closing the previous session", "session", sessionID)
		r.unregister(sessionID, old)
		old.session.Close()
	}

	return func() { r.unregister(sessionID, entry) }
}

func (r *Registry) unregister(sessionID string, entry *registeredSession) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) Lookup(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every registered session. Sessions unregister themselves
// once their connection winds down.
func (r *Registry) CloseAll() (closed int) {
	var sessions []Session
	r.mu.Lock()
	for _, entry := range r.sessions {
		sessions = append(sessions, entry.session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.Close()
		closed++
	}
	return closed
}

// Wait blocks until every registered session has been unregistered or ctx is
// done, and reports which happened first.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
