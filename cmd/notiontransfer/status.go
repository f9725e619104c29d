package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/progress"
)

func newStatusCommand(rootOpts *rootOptions) *cobra.Command {
	var databaseID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved progress of a transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if databaseID == "" {
				databaseID = a.cfg.OriginDatabaseID
			}
			if databaseID == "" {
				return errors.New("no database given: use --database or set ORIGIN_DATABASE_ID")
			}

			store, err := progress.Open(cmd.Context(), a.cfg)
			if err != nil {
				return fmt.Errorf("failed to open progress store: %w", err)
			}
			defer store.Close()

			p, err := store.Load(cmd.Context(), progress.Key(databaseID))
			if err != nil {
				return fmt.Errorf("failed to load progress: %w", err)
			}
			printProgress(cmd.OutOrStdout(), databaseID, p)
			return nil
		},
	}

	cmd.Flags().StringVarP(&databaseID, "database", "d", "", "source database id (default ORIGIN_DATABASE_ID)")

	return cmd
}

func printProgress(w io.Writer, databaseID string, p *models.TransferProgress) {
	fmt.Fprintf(w, "Source database: %s\n", databaseID)
	fmt.Fprintf(w, "Pages in last fetched batch: %d\n", p.TotalPages)
	fmt.Fprintf(w, "Transferred pages: %d (%.1f%%)\n", len(p.TransferredPages), p.ProgressPercentage())

	cursor := p.Cursor()
	if cursor == "" {
		cursor = "none (next run starts from the beginning)"
	}
	fmt.Fprintf(w, "Resume cursor: %s\n", cursor)

	fmt.Fprintf(w, "Failed pages: %d\n", len(p.FailedPages))
	ids := make([]string, 0, len(p.FailedPages))
	for id := range p.FailedPages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  - %s: %s\n", id, p.FailedPages[id])
	}
}
