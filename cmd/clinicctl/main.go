package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/app"
	"github.com/hackgods/clinic-agenda-sync/internal/config"
	"github.com/hackgods/clinic-agenda-sync/internal/logging"
)

// cli carries what every command needs once the root pre-run has built it.
type cli struct {
	app    *app.App
	logger *zap.Logger
	prompt *prompter
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{prompt: newPrompter(os.Stdin, os.Stdout)}
	if err := rootCmd(c).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Book, move and cancel clinic appointments on the remote agenda",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// operators read the terminal, keep logs quiet and readable
			level := cfg.LogLevel
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				level = "debug"
			} else if level == "info" {
				level = "warn"
			}
			logger, err := logging.New(level, "console", "clinicctl")
			if err != nil {
				return err
			}
			c.logger = logger

			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			c.app = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Log engine transitions")

	root.AddCommand(patientCmd(c))
	root.AddCommand(slotsCmd(c))
	root.AddCommand(bookCmd(c))
	root.AddCommand(rescheduleCmd(c))
	root.AddCommand(cancelCmd(c))
	root.AddCommand(listCmd(c))
	root.AddCommand(syncCmd(c))
	return root
}
