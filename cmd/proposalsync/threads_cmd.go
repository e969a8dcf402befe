package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"proposalsync/internal/threads"
)

func newThreadsCmd() *cobra.Command {
	var (
		reply   string
		replyTo string
	)

	cmd := &cobra.Command{
		Use:   "threads <document-key>",
		Short: "Print a document's comment threads, or add a comment",
		Example: `  proposalsync threads doc-q3
  proposalsync threads doc-q3 --add "Is the timeline fixed?"
  proposalsync threads doc-q3 --add "Yes, see 4.2" --reply-to cmt_1a2b`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			documentKey := args[0]
			env, err := openEnv(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close(ctx)
			if err := env.requireSession(); err != nil {
				return err
			}

			if strings.TrimSpace(reply) != "" {
				if _, err := env.cached.AddComment(ctx, documentKey, replyTo, reply); err != nil {
					return err
				}
			} else if replyTo != "" {
				return fmt.Errorf("--reply-to needs --add")
			}

			roots, err := env.cached.Threads(ctx, documentKey)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(roots) == 0 {
				fmt.Fprintln(out, "No comments")
				return nil
			}
			printThreads(out, roots, 0)
			fmt.Fprintf(out, "\n%d comments in %d threads, %d open\n", threads.Count(roots), len(roots), threads.OpenCount(roots))
			return nil
		},
	}

	cmd.Flags().StringVar(&reply, "add", "", "add a comment with this text before printing")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "parent comment id for --add")

	return cmd
}

func printThreads(out io.Writer, nodes []*threads.Comment, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, node := range nodes {
		marker := ""
		if node.Resolved {
			marker = " [resolved]"
		}
		fmt.Fprintf(out, "%s- %s (%s)%s: %s\n", indent, node.AuthorName, node.ID, marker, node.Content)
		printThreads(out, node.Replies, depth+1)
	}
}
