package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/config"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/notion"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/progress"
)

// Dependencies are shared by every transfer started from one process.
type Dependencies struct {
	Config   *config.Config
	Store    progress.Store
	Notifier Notifier
	Logger   zerolog.Logger
}

// NotionConfig maps the application config onto the API client settings.
func NotionConfig(cfg *config.Config) notion.Config {
	return notion.Config{
		BaseURL:        cfg.BaseURL,
		APIVersion:     cfg.APIVersion,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		RateLimitDelay: cfg.RateLimitDelay,
		Timeout:        cfg.HTTPTimeout,
	}
}

// ValidateConnections checks that each token can read its database
func ValidateConnections(ctx context.Context, params models.TransferParams, deps Dependencies) error {
	log := deps.Logger.With().Str("component", "activities").Logger()
	log.Info().Msg("Validating Notion connections")

	if params.SourceDatabaseID == params.DestinationDatabaseID && params.SourceToken == params.DestinationToken {
		return errors.New("source and destination are the same database")
	}

	cfg := NotionConfig(deps.Config)

	source := notion.NewClient(params.SourceToken, cfg, deps.Logger)
	info, err := source.RetrieveDatabase(ctx, params.SourceDatabaseID)
	if err != nil {
		return fmt.Errorf("failed to access source database: %w", err)
	}
	log.Info().Str("title", info.Title).Msg("Source database reachable")

	dest := notion.NewClient(params.DestinationToken, cfg, deps.Logger)
	info, err = dest.RetrieveDatabase(ctx, params.DestinationDatabaseID)
	if err != nil {
		return fmt.Errorf("failed to access destination database: %w", err)
	}
	log.Info().Str("title", info.Title).Msg("Destination database reachable")

	log.Info().Msg("Successfully validated Notion connections")
	return nil
}

// TransferCollection transfers a single database from source to destination
func TransferCollection(ctx context.Context, params models.TransferParams, deps Dependencies) (models.CollectionTransferResult, error) {
	log := deps.Logger.With().Str("component", "activities").Logger()
	log.Info().
		Str("source_db", params.SourceDatabaseID).
		Str("dest_db", params.DestinationDatabaseID).
		Msg("Starting transfer of database")

	cfg := NotionConfig(deps.Config)
	source := notion.NewClient(params.SourceToken, cfg, deps.Logger)
	dest := notion.NewClient(params.DestinationToken, cfg, deps.Logger)

	engine := NewEngine(source, dest, deps.Store, params, deps.Notifier, deps.Logger)
	result, err := engine.Run(ctx)

	srcStats, destStats := source.Stats(), dest.Stats()
	log.Info().
		Str("source_db", params.SourceDatabaseID).
		Str("status", string(result.Status)).
		Int64("requests", srcStats.Requests+destStats.Requests).
		Int64("retries", srcStats.Retries+destStats.Retries).
		Int64("rate_limited", srcStats.RateLimited+destStats.RateLimited).
		Dur("waited", srcStats.Waited+destStats.Waited).
		Msg("Database transfer finished")

	return result, err
}
