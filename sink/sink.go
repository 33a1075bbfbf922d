// Package sink persists finished records. Every sink accepts a record, its
// status and fetch metadata, and returns the identifier it stored them
// under.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/harvest/config"
)

// Record statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Metadata describes where a record came from.
type Metadata struct {
	URL       string    `json:"url"`
	DataType  string    `json:"data_type"`
	Method    string    `json:"method,omitempty"`
	Template  string    `json:"template,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Sink stores finished records.
type Sink interface {
	Store(ctx context.Context, rec map[string]any, status string, meta Metadata) (string, error)
	Close() error
}

// New builds the sink selected by cfg. The "none" driver returns a nil
// Sink and no error.
func New(cfg config.SinkConfig) (Sink, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(0), nil
	case "webhook":
		return NewWebhook(cfg.WebhookURL, cfg.WebhookSecret), nil
	case "sqlite3", "postgres":
		return OpenSQL(cfg.Driver, cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("sink: unknown driver %q", cfg.Driver)
	}
}

func newID() string { return uuid.NewString() }
