// Package storage is the key-value store behind the persisted session hint.
// Nothing kept here is authoritative; it only survives restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ecodispose/client/internal/config"
)

var ErrUnknownBackend = errors.New("unknown_storage_backend")

type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend named by cfg.StorageBackend.
func Open(ctx context.Context, cfg config.Config) (Storage, error) {
	switch cfg.StorageBackend {
	case "memory", "":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.StoragePath)
	case "redis":
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	case "sqlite":
		return NewSQLite(ctx, cfg.StoragePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.StorageBackend)
	}
}

type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Close() error { return nil }
