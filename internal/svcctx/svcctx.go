// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/evanhollis/eraflow/internal/config"
	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/era"
	"github.com/evanhollis/eraflow/internal/objstore"
	"github.com/evanhollis/eraflow/internal/split"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/sweep"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store         *store.Store
	Stores        *objstore.Registry
	Pool          *dispatch.Pool
	Orchestrator  *split.Orchestrator
	Sweeper       *sweep.Sweeper
	Encoder       *era.Encoder
	ConfigManager *config.Manager
	Logger        *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the analytical store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// StoresFrom extracts the object store registry from context.
func StoresFrom(ctx context.Context) *objstore.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Stores
	}
	return nil
}

// PoolFrom extracts the worker pool from context.
func PoolFrom(ctx context.Context) *dispatch.Pool {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pool
	}
	return nil
}

// OrchestratorFrom extracts the split orchestrator from context.
func OrchestratorFrom(ctx context.Context) *split.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// SweeperFrom extracts the recovery sweeper from context.
func SweeperFrom(ctx context.Context) *sweep.Sweeper {
	if s := ServicesFrom(ctx); s != nil {
		return s.Sweeper
	}
	return nil
}

// EncoderFrom extracts the remittance encoder from context.
func EncoderFrom(ctx context.Context) *era.Encoder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Encoder
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
