package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/notion"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/progress"
)

// Source pages through a database.
type Source interface {
	QueryDatabase(ctx context.Context, databaseID, startCursor string) (notion.QueryResult, error)
}

// Destination creates pages in a database.
type Destination interface {
	CreatePage(ctx context.Context, parentDatabaseID string, properties, children json.RawMessage) (string, error)
}

// Notifier receives human-readable progress messages.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

type discardNotifier struct{}

func (discardNotifier) Notify(string) {}

// ErrStalledCursor is returned when the source reports more results but no
// cursor that moves past the current one.
var ErrStalledCursor = errors.New("source pagination did not advance")

// RecordTransferFailure is the outcome of a page whose creation failed.
type RecordTransferFailure struct {
	RecordID string
	Err      error
}

func (e *RecordTransferFailure) Error() string {
	return fmt.Sprintf("failed to transfer page %s: %v", e.RecordID, e.Err)
}

func (e *RecordTransferFailure) Unwrap() error { return e.Err }

// FatalRunFailure stops a run. Stage names the step that failed.
type FatalRunFailure struct {
	Stage string
	Err   error
}

func (e *FatalRunFailure) Error() string {
	return fmt.Sprintf("transfer aborted during %s: %v", e.Stage, e.Err)
}

func (e *FatalRunFailure) Unwrap() error { return e.Err }

// PageOutcome is the result of transferring a single page.
type PageOutcome struct {
	SourceID string
	NewID    string
	Err      error
}

func (o PageOutcome) OK() bool { return o.Err == nil }

// Engine copies the pages of one source database into a destination database,
// one page at a time, persisting progress after each page.
type Engine struct {
	source   Source
	dest     Destination
	store    progress.Store
	notifier Notifier
	log      zerolog.Logger
	params   models.TransferParams
	key      string

	progress *models.TransferProgress
}

// NewEngine creates an engine. A nil notifier discards messages.
func NewEngine(source Source, dest Destination, store progress.Store, params models.TransferParams, notifier Notifier, log zerolog.Logger) *Engine {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Engine{
		source:   source,
		dest:     dest,
		store:    store,
		notifier: notifier,
		params:   params,
		key:      progress.Key(params.SourceDatabaseID),
		log: log.With().
			Str("component", "engine").
			Str("source_db", params.SourceDatabaseID).
			Str("dest_db", params.DestinationDatabaseID).
			Logger(),
	}
}

// Progress returns the in-memory progress of the current or last run.
func (e *Engine) Progress() *models.TransferProgress {
	return e.progress
}

// TransferPage creates the destination copy of one source page.
func (e *Engine) TransferPage(ctx context.Context, record models.SourceRecord) PageOutcome {
	var children json.RawMessage
	if e.params.ForwardChildren {
		children = record.Children
	}
	newID, err := e.dest.CreatePage(ctx, e.params.DestinationDatabaseID, record.Properties, children)
	if err != nil {
		return PageOutcome{SourceID: record.ID, Err: &RecordTransferFailure{RecordID: record.ID, Err: err}}
	}
	return PageOutcome{SourceID: record.ID, NewID: newID}
}

// Run transfers every page not yet recorded as transferred. Per-page failures
// are kept in the progress and reported in the result; only failures outside
// a single page (reading the source, loading or saving progress, cancellation)
// return a *FatalRunFailure.
func (e *Engine) Run(ctx context.Context) (models.CollectionTransferResult, error) {
	result := models.CollectionTransferResult{
		SourceDatabaseID:      e.params.SourceDatabaseID,
		DestinationDatabaseID: e.params.DestinationDatabaseID,
	}

	p, err := e.store.Load(ctx, e.key)
	if err != nil {
		return e.fail(result, "load_progress", err)
	}
	e.progress = p
	if p.CurrentCursor != nil || len(p.TransferredPages) > 0 {
		e.log.Info().
			Int("transferred", len(p.TransferredPages)).
			Int("failed", len(p.FailedPages)).
			Float64("percent", p.ProgressPercentage()).
			Msg("Loaded saved progress")
	}

	// Saves ignore cancellation: a created page must always be recorded.
	persistCtx := context.WithoutCancel(ctx)
	notifyEvery := e.params.NotifyEvery
	seen := 0

	for {
		if err := ctx.Err(); err != nil {
			return e.fail(result, "fetch_page", err)
		}
		page, err := e.source.QueryDatabase(ctx, e.params.SourceDatabaseID, p.Cursor())
		if err != nil {
			return e.fail(result, "fetch_page", err)
		}
		result.PagesFetched++

		if len(page.Records) == 0 {
			if result.PagesFetched == 1 {
				return e.noData(persistCtx, result, p)
			}
			break
		}

		p.TotalPages = len(page.Records)
		e.log.Info().Int("records", p.TotalPages).Int("page", result.PagesFetched).Msg("Fetched pages to transfer")

		for _, record := range page.Records {
			if err := ctx.Err(); err != nil {
				return e.fail(result, "transfer", err)
			}
			seen++

			if p.HasTransferred(record.ID) {
				result.SkippedCount++
				e.log.Debug().Str("page_id", record.ID).Msg("Page already transferred, skipping")
			} else {
				outcome := e.TransferPage(ctx, record)
				if !outcome.OK() && ctx.Err() != nil {
					return e.fail(result, "transfer", ctx.Err())
				}
				if outcome.OK() {
					p.AddTransferredPage(record.ID)
					result.TransferredCount++
					e.log.Info().
						Str("page_id", record.ID).
						Str("new_page_id", outcome.NewID).
						Float64("percent", p.ProgressPercentage()).
						Msg("Page transferred")
				} else {
					p.AddFailedPage(record.ID, outcome.Err.Error())
					result.FailedCount++
					e.log.Error().Err(outcome.Err).Str("page_id", record.ID).Msg("Page transfer failed")
				}
				if err := e.store.Save(persistCtx, e.key, p); err != nil {
					return e.fail(result, "save_progress", err)
				}
			}

			if notifyEvery > 0 && seen%notifyEvery == 0 {
				e.notifier.Notify(fmt.Sprintf("Processed %d pages: %d transferred, %d skipped, %d failed",
					seen, result.TransferredCount, result.SkippedCount, result.FailedCount))
			}
		}

		if !page.HasMore {
			break
		}
		if page.NextCursor == "" || page.NextCursor == p.Cursor() {
			return e.fail(result, "fetch_page", fmt.Errorf("%w: has_more set with next_cursor %q after cursor %q",
				ErrStalledCursor, page.NextCursor, p.Cursor()))
		}
		p.SetCursor(page.NextCursor)
		if err := e.store.Save(persistCtx, e.key, p); err != nil {
			return e.fail(result, "save_progress", err)
		}
	}

	// The next run starts from the beginning so earlier failures are retried.
	p.SetCursor("")
	if err := e.store.Save(persistCtx, e.key, p); err != nil {
		return e.fail(result, "save_progress", err)
	}

	result.Success = true
	if earlier := len(p.FailedPages) - result.FailedCount; earlier > 0 {
		e.log.Warn().
			Int("failed_earlier", earlier).
			Msg("Failed pages from earlier runs were not seen in this run and stay recorded")
	}
	if result.FailedCount > 0 {
		result.Status = models.StatusCompletedWithErrors
		result.ErrorMessage = fmt.Sprintf("%d pages could not be transferred", result.FailedCount)
		e.log.Warn().
			Int("transferred", result.TransferredCount).
			Int("skipped", result.SkippedCount).
			Int("failed", result.FailedCount).
			Msg("Transfer completed with errors, re-run to retry failed pages")
	} else {
		result.Status = models.StatusDone
		e.log.Info().
			Int("transferred", result.TransferredCount).
			Int("skipped", result.SkippedCount).
			Msg("Transfer completed")
	}
	e.notifier.Notify(Summary(result))
	return result, nil
}

func (e *Engine) noData(ctx context.Context, result models.CollectionTransferResult, p *models.TransferProgress) (models.CollectionTransferResult, error) {
	if p.CurrentCursor != nil {
		p.SetCursor("")
		if err := e.store.Save(ctx, e.key, p); err != nil {
			return e.fail(result, "save_progress", err)
		}
	}
	result.Status = models.StatusNoData
	result.Success = true
	e.log.Warn().Msg("No data in source database")
	e.notifier.Notify(Summary(result))
	return result, nil
}

func (e *Engine) fail(result models.CollectionTransferResult, stage string, err error) (models.CollectionTransferResult, error) {
	result.Status = models.StatusFatal
	result.Success = false
	result.ErrorMessage = err.Error()
	e.log.Error().Err(err).Str("stage", stage).Msg("Transfer aborted")
	e.notifier.Notify(Summary(result))
	return result, &FatalRunFailure{Stage: stage, Err: err}
}

// Summary renders the terminal message for a collection transfer.
func Summary(r models.CollectionTransferResult) string {
	switch r.Status {
	case models.StatusNoData:
		return fmt.Sprintf("No data in database %s", r.SourceDatabaseID)
	case models.StatusFatal:
		return fmt.Sprintf("Transfer of %s failed: %s", r.SourceDatabaseID, r.ErrorMessage)
	case models.StatusCompletedWithErrors:
		return fmt.Sprintf("Transfer of %s completed with errors: %d transferred, %d skipped, %d failed in this run. %s; run again to retry them",
			r.SourceDatabaseID, r.TransferredCount, r.SkippedCount, r.FailedCount, r.ErrorMessage)
	default:
		return fmt.Sprintf("Transfer of %s completed: %d transferred, %d skipped",
			r.SourceDatabaseID, r.TransferredCount, r.SkippedCount)
	}
}
