package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/activities"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/progress"
)

// transferFunc runs one database pair to completion.
type transferFunc func(ctx context.Context, params models.TransferParams, notifier activities.Notifier) (models.CollectionTransferResult, error)

type runOptions struct {
	Pairs           []string
	Workers         int
	ForwardChildren bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transfer one or more databases",
		Long: `Transfer every page of the source database into the destination database.

Without --pair the ORIGIN_DATABASE_ID and DEST_DATABASE_ID settings are used.
Several --pair flags are transferred in parallel with the same two tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Pairs, "pair", nil, "source:destination database ids (repeatable)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "number of databases transferred in parallel (default WORKERS)")
	cmd.Flags().BoolVar(&opts.ForwardChildren, "forward-children", false, "also copy page content blocks (overrides FORWARD_CHILDREN)")

	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *rootOptions, opts *runOptions) error {
	a, err := setup(rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if len(opts.Pairs) == 0 {
		if err := cfg.ValidateTransferInputs(); err != nil {
			return err
		}
		opts.Pairs = []string{cfg.OriginDatabaseID + ":" + cfg.DestDatabaseID}
	} else if cfg.OriginToken == "" || cfg.DestToken == "" {
		return errors.New("ORIGIN_NOTION_TOKEN and DEST_NOTION_TOKEN are required")
	}
	for _, w := range cfg.Warnings() {
		a.log.Warn().Msg(w)
	}

	base := models.TransferParams{
		SourceToken:      cfg.OriginToken,
		DestinationToken: cfg.DestToken,
		ForwardChildren:  cfg.ForwardChildren || opts.ForwardChildren,
		NotifyEvery:      cfg.NotifyEvery,
	}
	pairs, err := parsePairs(opts.Pairs, base)
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Workers
	}

	ctx := cmd.Context()
	store, err := progress.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer store.Close()

	deps := activities.Dependencies{Config: cfg, Store: store, Logger: a.log}
	result := runTransfer(ctx, pairs, workers, newTransferFunc(deps), a.log)

	printSummary(cmd.OutOrStdout(), result)

	if !result.OverallSuccess {
		return errors.New("transfer failed")
	}
	return nil
}

// newTransferFunc validates both connections before running the engine.
func newTransferFunc(deps activities.Dependencies) transferFunc {
	return func(ctx context.Context, params models.TransferParams, notifier activities.Notifier) (models.CollectionTransferResult, error) {
		if err := activities.ValidateConnections(ctx, params, deps); err != nil {
			err = fmt.Errorf("connection validation failed: %w", err)
			return models.CollectionTransferResult{
				SourceDatabaseID:      params.SourceDatabaseID,
				DestinationDatabaseID: params.DestinationDatabaseID,
				Status:                models.StatusFatal,
				ErrorMessage:          err.Error(),
			}, err
		}
		deps.Notifier = notifier
		return activities.TransferCollection(ctx, params, deps)
	}
}

// parsePairs turns "source:destination" values into transfer parameters
func parsePairs(values []string, base models.TransferParams) ([]models.TransferParams, error) {
	var pairs []models.TransferParams
	for _, v := range values {
		src, dst, ok := strings.Cut(v, ":")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid pair %q: expected source:destination", v)
		}
		p := base
		p.SourceDatabaseID = src
		p.DestinationDatabaseID = dst
		pairs = append(pairs, p)
	}

	dups := lo.FindDuplicatesBy(pairs, func(p models.TransferParams) string {
		return progress.Key(p.SourceDatabaseID)
	})
	if len(dups) > 0 {
		return nil, fmt.Errorf("source database %s is listed more than once", dups[0].SourceDatabaseID)
	}
	return pairs, nil
}

// runTransfer runs every pair through a pool of workers
func runTransfer(ctx context.Context, pairs []models.TransferParams, workerCount int, transfer transferFunc, logger zerolog.Logger) models.TransferResult {
	result := models.TransferResult{
		OverallSuccess: true,
	}
	if len(pairs) == 0 {
		return result
	}

	if workerCount <= 0 {
		workerCount = 3
	}

	// Indexes keep the results in input order.
	pairCh := make(chan int, len(pairs))
	for i := range pairs {
		pairCh <- i
	}
	close(pairCh)

	results := make([]models.CollectionTransferResult, len(pairs))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range pairCh {
				params := pairs[idx]
				log := logger.With().Str("source_db", params.SourceDatabaseID).Logger()
				notifier := activities.NotifierFunc(func(msg string) {
					log.Info().Msg(msg)
				})
				res, err := transfer(ctx, params, notifier)
				if err != nil {
					log.Error().Err(err).Msg("Error transferring database")
				}
				results[idx] = res
			}
		}()
	}

	wg.Wait()

	result.CollectionResults = results
	result.TotalTransferred = lo.SumBy(results, func(r models.CollectionTransferResult) int { return r.TransferredCount })
	result.TotalFailed = lo.SumBy(results, func(r models.CollectionTransferResult) int { return r.FailedCount })
	result.OverallSuccess = lo.EveryBy(results, func(r models.CollectionTransferResult) bool { return r.Success })

	return result
}

// printSummary prints a summary of the transfer results
func printSummary(w io.Writer, result models.TransferResult) {
	fmt.Fprintln(w, "\n=== Notion Transfer Summary ===")
	fmt.Fprintf(w, "Total pages transferred: %d\n", result.TotalTransferred)
	fmt.Fprintf(w, "Total pages failed: %d\n", result.TotalFailed)
	fmt.Fprintf(w, "Success: %v\n", result.OverallSuccess)
	fmt.Fprintln(w, "\nDatabase details:")

	successCount := 0
	for _, r := range result.CollectionResults {
		var status string
		switch {
		case !r.Success:
			status = "✗ Failed: " + r.ErrorMessage
		case r.Status == models.StatusCompletedWithErrors:
			status = "! Completed with errors: " + r.ErrorMessage
			successCount++
		case r.Status == models.StatusNoData:
			status = "✓ No data"
			successCount++
		default:
			status = "✓ Success"
			successCount++
		}
		fmt.Fprintf(w, "  - %s -> %s: %d transferred, %d skipped, %d failed, %s\n",
			r.SourceDatabaseID, r.DestinationDatabaseID, r.TransferredCount, r.SkippedCount, r.FailedCount, status)
	}

	fmt.Fprintf(w, "\nSuccessfully transferred %d out of %d databases\n", successCount, len(result.CollectionResults))
}
