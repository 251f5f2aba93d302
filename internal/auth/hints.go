package auth

import (
	"context"
	"sync"
)

// MemoryHints is a process-local HintStore.
type MemoryHints struct {
	mu           sync.Mutex
	lastDevLogin string
}

// NewMemoryHints creates an empty hint store.
func NewMemoryHints() *MemoryHints {
	return &MemoryHints{}
}

func (h *MemoryHints) SetLastDevLogin(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastDevLogin = id
	return nil
}

func (h *MemoryHints) LastDevLogin(_ context.Context) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastDevLogin, h.lastDevLogin != "", nil
}
