package services

import (
	"context"
	"fmt"

	"github.com/99designs/keyring"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"deepresearch/internal/events"
	"deepresearch/internal/metrics"
	"deepresearch/internal/streaming"
)

// Deps carries what NewServices needs besides the database.
type Deps struct {
	Keyring   keyring.Keyring
	NewClient ClientFactory
	Resolver  URLResolver
	Emitter   *events.Emitter
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Throttle  streaming.Options
}

// Services is the full application container.
type Services struct {
	*DbServices
	Catalog  ModelCatalogService
	Keys     *KeyringService
	Research *ResearchService
}

func NewServices(db *gorm.DB, deps Deps) *Services {
	catalog := NewModelCatalogService()
	dbs := NewDbServices(db, catalog, deps.Emitter, deps.Logger)
	keys := NewKeyringService(deps.Keyring)
	return &Services{
		DbServices: dbs,
		Catalog:    catalog,
		Keys:       keys,
		Research: NewResearchService(ResearchOptions{
			Sessions:  dbs.Sessions,
			Settings:  dbs.Settings,
			Catalog:   catalog,
			Tones:     dbs.Tones,
			Keys:      keys,
			NewClient: deps.NewClient,
			Resolver:  deps.Resolver,
			Emitter:   deps.Emitter,
			Metrics:   deps.Metrics,
			Logger:    deps.Logger,
			Throttle:  deps.Throttle,
		}),
	}
}

// Startup loads the catalog, seeds tones and restores the session.
func (s *Services) Startup(ctx context.Context) error {
	if err := s.Catalog.Startup(ctx); err != nil {
		return fmt.Errorf("startup catalog: %w", err)
	}
	if err := s.Tones.Startup(ctx); err != nil {
		return fmt.Errorf("startup tones: %w", err)
	}
	s.Settings.Startup(ctx)
	if err := s.Sessions.Startup(ctx); err != nil {
		return fmt.Errorf("startup session: %w", err)
	}
	return nil
}
