package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	kv      map[string]map[string]string
	history map[string][]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		kv:      make(map[string]map[string]string),
		history: make(map[string][]Record),
	}
}

func (m *Memory) Get(_ context.Context, userID, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[userID][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv[userID] == nil {
		m.kv[userID] = make(map[string]string)
	}
	m.kv[userID][key] = value
	return nil
}

func (m *Memory) RecordPrescription(_ context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.history[rec.UserID] = append(m.history[rec.UserID], rec)
	m.mu.Unlock()
	return nil
}

// ListPrescriptions returns records newest first. Records with equal
// timestamps come back in reverse insertion order.
func (m *Memory) ListPrescriptions(_ context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.history[userID]
	out := make([]Record, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i])
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
