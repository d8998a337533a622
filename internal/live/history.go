package live

import (
	"context"

	"github.com/alfredjeanlab/panels/internal/model"
)

// History is the server-side record of recent live events, bounded per
// (type, sender) the same way a Buffer is.
type History interface {
	Append(ctx context.Context, ev model.LiveEvent) error
	Clear(ctx context.Context, t model.LiveType) error
	Recent(ctx context.Context, t model.LiveType, sender string) ([]model.LiveEvent, error)
	Senders(ctx context.Context, t model.LiveType) ([]string, error)
}

// MemoryHistory keeps history in a process-local Buffer.
type MemoryHistory struct {
	buf *Buffer
}

var _ History = (*MemoryHistory)(nil)

func NewMemoryHistory(capacity int) *MemoryHistory {
	return &MemoryHistory{buf: NewBuffer(capacity)}
}

func (h *MemoryHistory) Append(_ context.Context, ev model.LiveEvent) error {
	h.buf.Ingest(ev)
	return nil
}

func (h *MemoryHistory) Clear(_ context.Context, t model.LiveType) error {
	h.buf.Clear(t)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, t model.LiveType, sender string) ([]model.LiveEvent, error) {
	return h.buf.Events(t, sender), nil
}

func (h *MemoryHistory) Senders(_ context.Context, t model.LiveType) ([]string, error) {
	return h.buf.Senders(t), nil
}
