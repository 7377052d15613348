// Package cli implements feedctl, the operator tool for a feed deployment.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedline/internal/config"
	"feedline/internal/database"
	"feedline/internal/engine"
	"feedline/internal/engine/actors"
	"feedline/internal/events"
	"feedline/internal/utils"

	"github.com/spf13/cobra"
)

// Commands may scan every post, so the engine waits much longer than a server would.
const operatorTimeout = 10 * time.Minute

var validFormats = []string{"text", "json"}

// RootOptions holds global flags and how commands reach the backend.
type RootOptions struct {
	Verbose bool
	Format  string

	// Open connects to the configured store. Tests replace it.
	Open func(ctx context.Context) (*Backend, error)
}

// Backend is what a command runs against. Writes go through the engine so
// they publish live updates exactly as the server does.
type Backend struct {
	DB     database.DBAdapter
	Engine *engine.Engine
	close  func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// NewBackend wraps an open store and broker in an engine. Close shuts down
// the engine only; the caller keeps ownership of db and broker.
func NewBackend(db database.DBAdapter, broker events.Broker, logger *slog.Logger) *Backend {
	deps := &actors.Deps{DB: db, Broker: broker, Metrics: utils.NewMetricsCollector(), StoreTimeout: operatorTimeout}
	eng := engine.NewEngine(engine.NewActorSystem(logger), deps, operatorTimeout)
	return &Backend{DB: db, Engine: eng, close: eng.Shutdown}
}

func openFromConfig(ctx context.Context) (*Backend, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	broker, err := events.Open(cfg.Events)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	b := NewBackend(db, broker, slog.Default())
	shutdown := b.close
	b.close = func() {
		shutdown()
		broker.Close()
		db.Close(context.Background())
	}
	return b, nil
}

// NewRootCommand creates the feedctl root command.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithBackend(openFromConfig)
}

// NewRootCommandWithBackend builds the command tree with a custom backend opener.
func NewRootCommandWithBackend(open func(ctx context.Context) (*Backend, error)) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "feedctl",
		Short: "Operate a feedline deployment",
		Long: `feedctl runs maintenance against the store configured by the usual
environment (DB_TYPE, DATABASE_URL, MONGO_URI, NATS_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats))
			}
			utils.SetupLogger(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewPromoteCommand(opts))
	cmd.AddCommand(NewRequestsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
