package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Store is the key-value persistence boundary the engine depends on. It holds
// event history, failure patterns, circuit-breaker snapshots, checkpoints,
// resolution signals, and final recovery reports.
type Store interface {
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound signals that a key is absent.
var ErrNotFound = errors.New("key not found")

// Well-known key prefixes. Keeping them in one place makes the store browsable.
const (
	PrefixEvent      = "event:"
	PrefixReport     = "report:"
	PrefixPattern    = "pattern:"
	PrefixBreaker    = "breaker:"
	PrefixCheckpoint = "checkpoint:"
	PrefixResolution = "resolution:"
	PrefixCache      = "cache:"
)

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// RetrieveJSON loads key and unmarshals into v. Returns ErrNotFound when absent.
func RetrieveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Retrieve(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
