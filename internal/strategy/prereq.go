package strategy

import (
	"context"
	"log/slog"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/storage"
)

// StorePrereqChecker answers prerequisite questions against the key-value
// store and the failure context.
type StorePrereqChecker struct {
	store  storage.Store
	logger *slog.Logger
}

// NewStorePrereqChecker constructs the default prerequisite checker.
func NewStorePrereqChecker(store storage.Store, logger *slog.Logger) *StorePrereqChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorePrereqChecker{store: store, logger: logger}
}

// Satisfied implements PrereqChecker. Unknown prerequisite names are treated
// as unsatisfied so a typo in a template filters the option out instead of
// executing an unprepared plan.
func (c *StorePrereqChecker) Satisfied(ctx context.Context, name string, diag models.DiagnosisResult) bool {
	switch name {
	case PrereqCheckpointExists:
		return c.exists(ctx, storage.PrefixCheckpoint+diag.Context.ComponentID)
	case PrereqCachedOutputExists:
		return c.exists(ctx, storage.PrefixCache+diag.Context.ComponentID)
	case PrereqAlternativeConfigured:
		return diag.Context.State["alternativeId"] != ""
	default:
		c.logger.Warn("unknown prerequisite", slog.String("name", name))
		return false
	}
}

func (c *StorePrereqChecker) exists(ctx context.Context, key string) bool {
	_, err := c.store.Retrieve(ctx, key)
	return err == nil
}
