package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/activities"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/progress"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/session"
)

const maxSessions = 64

func newChatCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Collect the transfer inputs in a conversation and run the transfer",
		Long: `Ask for both tokens and both database ids one message at a time on stdin,
then run the transfer and report its progress on stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := progress.Open(cmd.Context(), a.cfg)
			if err != nil {
				return fmt.Errorf("failed to open progress store: %w", err)
			}
			defer store.Close()

			deps := activities.Dependencies{Config: a.cfg, Store: store, Logger: a.log}
			transfer := newTransferFunc(deps)
			withDefaults := func(ctx context.Context, params models.TransferParams, notifier activities.Notifier) (models.CollectionTransferResult, error) {
				params.NotifyEvery = a.cfg.NotifyEvery
				params.ForwardChildren = a.cfg.ForwardChildren
				return transfer(ctx, params, notifier)
			}

			manager := session.NewManager(maxSessions, a.cfg.SessionTTL, a.log)
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), manager, withDefaults)
		},
	}
}

// runChat reads one message per line and answers on out until in is
// exhausted or ctx is cancelled.
func runChat(ctx context.Context, in io.Reader, out io.Writer, manager *session.Manager, transfer transferFunc) error {
	var s *session.Session
	start := func() {
		s = manager.Start()
		fmt.Fprintln(out, s.Greeting())
	}
	start()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())

		if s == nil {
			if line == session.CommandStart {
				start()
			} else {
				fmt.Fprintln(out, "Send "+session.CommandStart+" to begin a new transfer.")
			}
			continue
		}
		if _, ok := manager.Get(s.ID); !ok {
			fmt.Fprintln(out, "The session expired, starting over.")
			start()
			continue
		}

		reply := s.Handle(line)
		fmt.Fprintln(out, reply.Text)

		if reply.Start {
			notifier := activities.NotifierFunc(func(msg string) {
				fmt.Fprintln(out, msg)
			})
			_, err := transfer(ctx, s.Params(), notifier)
			var fatal *activities.FatalRunFailure
			if err != nil && !errors.As(err, &fatal) {
				// The engine reports its own failures through the notifier.
				fmt.Fprintln(out, "Transfer failed: "+err.Error())
			}
			s.Finish()
			fmt.Fprintln(out, "Send "+session.CommandStart+" to begin a new transfer.")
		}

		if s.Closed() {
			manager.End(s.ID)
			s = nil
		}
	}
	return scanner.Err()
}
