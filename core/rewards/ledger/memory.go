package ledger

import (
	"context"
	"sync"

	"github.com/koscakluka/ema-live/core/rewards"
)

type Memory struct {
	mu       sync.RWMutex
	records  map[string]rewards.TaskRecord
	sessions map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]rewards.TaskRecord),
		sessions: make(map[string][]string),
	}
}

func (m *Memory) Record(_ context.Context, record rewards.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ID]; !exists {
		m.sessions[record.SessionID] = append(m.sessions[record.SessionID], record.ID)
	}
	m.records[record.ID] = record
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*rewards.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[id]
	if !exists {
		return nil, nil
	}
	return &record, nil
}

func (m *Memory) Session(_ context.Context, sessionID string) ([]rewards.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.sessions[sessionID]
	records := make([]rewards.TaskRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, m.records[id])
	}
	return records, nil
}

func (m *Memory) Close() error { return nil }
