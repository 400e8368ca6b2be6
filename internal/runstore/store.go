// Package runstore persists run results so they can be queried after the
// runner is done with them.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"matrixci/internal/config"
	"matrixci/internal/core"
)

var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 50

// Store keeps RunResults keyed by run ID. List returns newest first.
type Store interface {
	Save(ctx context.Context, run *core.RunResult) error
	Get(ctx context.Context, id uuid.UUID) (*core.RunResult, error)
	List(ctx context.Context, limit int) ([]*core.RunResult, error)
	Close() error
}

// Open builds the backend named by cfg.Store.Backend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case "postgres":
		return NewPostgres(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*core.RunResult
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[uuid.UUID]*core.RunResult)}
}

func (m *Memory) Save(_ context.Context, run *core.RunResult) error {
	if run == nil {
		return errors.New("nil run")
	}
	c, err := clone(run)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.runs[run.ID] = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*core.RunResult, error) {
	m.mu.RLock()
	run, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(run)
}

func (m *Memory) List(_ context.Context, limit int) ([]*core.RunResult, error) {
	m.mu.RLock()
	all := make([]*core.RunResult, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID.String() > all[j].ID.String()
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if n := clampLimit(limit); len(all) > n {
		all = all[:n]
	}
	out := make([]*core.RunResult, 0, len(all))
	for _, r := range all {
		c, err := clone(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
