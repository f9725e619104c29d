package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/config"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigFile string
	LogLevel   string
}

// app is what every command needs once flags are parsed.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	logs *logger.LogData
}

func (a *app) Close() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "notiontransfer",
		Short: "Copy every page of a Notion database into another database",
		Long: `Copy every page of a Notion database into another one, possibly in another
workspace. Progress is saved after each page so an interrupted transfer
resumes where it stopped and never creates duplicates.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "optional YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newChatCommand(opts))

	return cmd
}

// setup loads the configuration and builds the logger.
func setup(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logs, err := logger.New().FromPath(cfg.LogFile).Level(cfg.LogLevel).Make()
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: logs.Logger, logs: logs}, nil
}
