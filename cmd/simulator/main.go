package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"feedline/internal/utils"
	"feedline/simulator"

	"github.com/spf13/cobra"
)

func main() {
	config := simulator.DefaultConfig()
	var (
		verbose bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:           "simulator",
		Short:         "Drive simulated users against a running server and report likes drift",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.SetupLogger(verbose)
			config.Logger = logger
			logger.Info("simulation configuration",
				"engineURL", config.EngineURL,
				"users", config.NumUsers,
				"posts", config.NumPosts,
				"duration", config.SimulationTime,
				"likesPerMin", config.LikeFrequency,
				"savesPerMin", config.SaveFrequency,
				"commentsPerMin", config.CommentFrequency,
				"doubleTapRate", config.DoubleTapRate,
				"zipf", config.ZipfS)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, config.SimulationTime)
			defer cancel()

			report, err := simulator.NewSimulator(config).Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				report.Print(cmd.OutOrStdout())
			}
			if drifts := report.Drifts(); len(drifts) > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&config.EngineURL, "url", config.EngineURL, "server base URL")
	f.IntVar(&config.NumUsers, "users", config.NumUsers, "number of simulated users")
	f.IntVar(&config.NumPosts, "posts", config.NumPosts, "number of posts to create")
	f.DurationVar(&config.SimulationTime, "duration", config.SimulationTime, "how long to run")
	f.Float64Var(&config.LikeFrequency, "likes", config.LikeFrequency, "like toggles per user per minute")
	f.Float64Var(&config.SaveFrequency, "saves", config.SaveFrequency, "save toggles per user per minute")
	f.Float64Var(&config.CommentFrequency, "comments", config.CommentFrequency, "comments per user per minute")
	f.Float64Var(&config.DoubleTapRate, "double-tap", config.DoubleTapRate, "chance a like is tapped twice")
	f.Float64Var(&config.ZipfS, "zipf", config.ZipfS, "post popularity skew")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&asJSON, "json", false, "print the report as JSON")

	if err := cmd.Execute(); err != nil {
		utils.SetupLogger(false).Error("simulation failed", "error", err)
		os.Exit(1)
	}
}
