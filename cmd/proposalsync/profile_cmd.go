package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	var displayName, title, company string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the signed-in profile, or update it with flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(ctx)
			if err := env.requireSession(); err != nil {
				return err
			}

			profile, err := env.cached.Profile(ctx)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("display-name") || flags.Changed("title") || flags.Changed("company") {
				if flags.Changed("display-name") {
					profile.DisplayName = displayName
				}
				if flags.Changed("title") {
					profile.Title = title
				}
				if flags.Changed("company") {
					profile.Company = company
				}
				if profile, err = env.cached.UpdateProfile(ctx, profile); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:    %s\n", profile.DisplayName)
			fmt.Fprintf(out, "Title:   %s\n", profile.Title)
			fmt.Fprintf(out, "Company: %s\n", profile.Company)
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "set the display name")
	cmd.Flags().StringVar(&title, "title", "", "set the job title")
	cmd.Flags().StringVar(&company, "company", "", "set the company")

	return cmd
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List document templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(ctx)
			if err := env.requireSession(); err != nil {
				return err
			}

			templates, err := env.cached.Templates(ctx)
			if err != nil {
				return err
			}
			for _, tpl := range templates {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", tpl.ID, tpl.Name)
			}
			return nil
		},
	}
}
