package llm

import (
	"context"
	"sync"
)

// Meter wraps a Client and accumulates token usage across calls. Engines
// read totals at task boundaries to attribute spend per task.
type Meter struct {
	inner Client

	mu    sync.Mutex
	total Usage
}

func NewMeter(inner Client) *Meter {
	return &Meter{inner: inner}
}

func (m *Meter) Name() string { return m.inner.Name() }

func (m *Meter) GenerateText(ctx context.Context, req Request) (Completion, error) {
	comp, err := m.inner.GenerateText(ctx, req)
	if err != nil {
		return comp, err
	}
	m.mu.Lock()
	m.total.Add(comp.Usage)
	m.mu.Unlock()
	return comp, nil
}

// Total returns the usage accumulated so far.
func (m *Meter) Total() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

var _ Client = (*Meter)(nil)
