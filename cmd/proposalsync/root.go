package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"proposalsync/internal/config"
)

var (
	// Global flags
	apiURL      string
	localDriver string
	localPath   string
	logLevel    string

	cfg config.Config
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposalsync",
		Short: "Autosave, cache and comment tooling for proposal documents",
		Long: `proposalsync talks to the proposal API the way the editor does.

It keeps a local durable store (bbolt by default) that holds the session,
cached reads and the autosave fallback copy of every document it saves.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-url") {
				loaded.APIURL = apiURL
			}
			if cmd.Flags().Changed("local-driver") {
				loaded.LocalDriver = localDriver
			}
			if cmd.Flags().Changed("local-path") {
				loaded.LocalPath = localPath
			}
			if cmd.Flags().Changed("log-level") {
				loaded.LogLevel = logLevel
			}
			cfg = loaded
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL (default $PROPOSALSYNC_API_URL)")
	cmd.PersistentFlags().StringVar(&localDriver, "local-driver", "", "local store driver: bbolt, sqlite or memory")
	cmd.PersistentFlags().StringVar(&localPath, "local-path", "", "local store file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newThreadsCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newTemplatesCmd())
	cmd.AddCommand(newCacheCmd())

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "proposalsync:", err)
		os.Exit(1)
	}
}
