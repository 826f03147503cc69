package orchestration

import (
	"slices"
	"sync"

	"github.com/koscakluka/ema-live/core/llms"
)

// Session is one live conversational context. History is only ever written
// by the turn that currently holds the session or by the orchestrator while
// it reconciles an interruption, the lock only guards readers.
type Session struct {
	id string

	mu      sync.RWMutex
	history []llms.Message
	persona string
}

func NewSession(id, persona string) *Session {
	return &Session{id: id, persona: persona}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Persona() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

// History returns a copy of the conversation so far, oldest first.
func (s *Session) History() []llms.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

func (s *Session) setPersona(persona string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona = persona
}

func (s *Session) append(message llms.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, message)
}

// overwriteLast replaces the content of the newest entry.
func (s *Session) overwriteLast(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	s.history[len(s.history)-1].Content = content
}

