// Package engine holds the fetch engines and the shared resources they draw
// on: the static HTTP engine, the browser session pool, synthetic client
// identities and per-domain method memory.
package engine

import (
	"context"

	"github.com/use-agent/harvest/models"
)

// Engine is the interface that all fetch engines must implement.
type Engine interface {
	// Name returns the engine identifier ("static" or "browser").
	Name() string

	// Fetch performs a single attempt. Retries, proxy rotation and
	// escalation belong to the caller.
	Fetch(ctx context.Context, req *models.FetchRequest) (*Response, error)
}

// Response is the output of a successful engine fetch.
type Response struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc struct {
	EngineName string
	Fn         func(ctx context.Context, req *models.FetchRequest) (*Response, error)
}

func (f EngineFunc) Name() string { return f.EngineName }

func (f EngineFunc) Fetch(ctx context.Context, req *models.FetchRequest) (*Response, error) {
	return f.Fn(ctx, req)
}
