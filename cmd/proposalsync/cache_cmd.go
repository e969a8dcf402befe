package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached API reads in the local store",
	}
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached read; the session and fallback copies are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(ctx)

			before, err := env.local.Keys(ctx, env.cache.Namespace())
			if err != nil {
				return fmt.Errorf("list cache keys: %w", err)
			}
			env.cache.Clear(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached entries\n", len(before))
			return nil
		},
	}
}
