// Package store keeps graph documents (captured configurator subgraphs and
// assembled graphs) in a local directory or an S3 bucket.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
)

// ErrNotFound is returned by Read when no document is stored under a key.
var ErrNotFound = errors.New("document not found")

// ErrLocked is returned by Lock when another process holds the lock.
var ErrLocked = errors.New("store is locked")

// Backend defines the interface for graph document storage.
type Backend interface {
	// Read loads the document stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data under key, replacing any previous document.
	Write(ctx context.Context, key string, data []byte) error

	// Lock acquires an exclusive lock on the store.
	Lock(ctx context.Context) error

	// Unlock releases the lock on the store.
	Unlock(ctx context.Context) error
}

// BackendConfig holds configuration for a store backend.
type BackendConfig struct {
	Type   string            `json:"type" pkl:"type"` // "local", "s3"
	Config map[string]string `json:"config" pkl:"config"`
}

// NewBackend creates a store backend from configuration.
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		dir := cfg.Config["dir"]
		if dir == "" {
			dir = ".actiongraph"
		}
		return NewLocal(dir), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// ParseLocation turns "s3://bucket/prefix" or a directory path into a
// BackendConfig.
func ParseLocation(loc string) *BackendConfig {
	rest, ok := strings.CutPrefix(loc, "s3://")
	if !ok {
		return &BackendConfig{Type: "local", Config: map[string]string{"dir": loc}}
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	return &BackendConfig{Type: "s3", Config: map[string]string{"bucket": bucket, "prefix": prefix}}
}

// ReadGraph loads and decodes the graph stored under key.
func ReadGraph(ctx context.Context, b Backend, key string) (*ir.Graph, error) {
	data, err := b.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	g, err := ir.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return g, nil
}

// WriteGraph encodes g and stores it under key.
func WriteGraph(ctx context.Context, b Backend, key string, g *ir.Graph) error {
	var buf bytes.Buffer
	if err := ir.Encode(&buf, g); err != nil {
		return err
	}
	return b.Write(ctx, key, buf.Bytes())
}
