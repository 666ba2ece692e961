package dialog

import (
	"context"
	"maps"
	"sync"
)

// Memory keeps terminal state for the lifetime of the process.
type Memory struct {
	mu    sync.Mutex
	items map[string]Item
}

func NewMemory() *Memory { return &Memory{items: map[string]Item{}} }

func (m *Memory) Get(_ context.Context, terminalID string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[terminalID]
	if !ok {
		return &Item{TerminalID: terminalID, State: StateIdle, Payload: Payload{}}, nil
	}
	it.Payload = maps.Clone(it.Payload) // callers may mutate what they get
	return &it, nil
}

func (m *Memory) Set(_ context.Context, terminalID string, state State, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := maps.Clone(payload)
	if p == nil {
		p = Payload{}
	}
	m.items[terminalID] = Item{TerminalID: terminalID, State: state, Payload: p}
	return nil
}

func (m *Memory) Reset(_ context.Context, terminalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, terminalID)
	return nil
}
