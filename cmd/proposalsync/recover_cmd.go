package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proposalsync/internal/autosave"
)

func newRecoverCmd() *cobra.Command {
	var push bool

	cmd := &cobra.Command{
		Use:   "recover <document-key>",
		Short: "Show or re-send the local fallback copy of a document",
		Long: `Recover prints the snapshot the last save attempt wrote to the local store.

With --push the snapshot is saved to the API again and the local copy is
removed once the server accepts it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			documentKey := args[0]
			env, err := openEnv(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(ctx)

			record, ok, err := autosave.LoadFallback(ctx, env.local, documentKey)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no local copy of %s", documentKey)
			}

			out := cmd.OutOrStdout()
			if !push {
				fmt.Fprintf(out, "# %s, written %s\n", documentKey, record.Timestamp.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "%s\n", record.Snapshot)
				return nil
			}

			if err := env.requireSession(); err != nil {
				return err
			}
			coord, err := autosave.New(autosave.Config{
				DocumentKey: documentKey,
				Save:        env.client.SaveDocument,
				Disabled:    true,
				Logger:      env.logger.With("component", "autosave"),
			})
			if err != nil {
				return err
			}
			defer coord.Close()

			if err := coord.Observe(record.Snapshot); err != nil {
				return err
			}
			if err := coord.SaveNow(ctx); err != nil {
				return fmt.Errorf("push %s: %w", documentKey, err)
			}
			if err := autosave.DiscardFallback(ctx, env.local, documentKey); err != nil {
				return err
			}
			fmt.Fprintf(out, "Pushed %s and removed the local copy\n", documentKey)
			return nil
		},
	}

	cmd.Flags().BoolVar(&push, "push", false, "save the local copy to the API and discard it")

	return cmd
}
