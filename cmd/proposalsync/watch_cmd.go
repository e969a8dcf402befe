package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"proposalsync/internal/autosave"
	"proposalsync/internal/metrics"
)

func newWatchCmd() *cobra.Command {
	var (
		interval    time.Duration
		delay       time.Duration
		flush       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch <document-key> <file>",
		Short: "Autosave a JSON file to a document while it is edited",
		Long: `Watch polls <file> and feeds every change to an autosave coordinator.

Saves happen once the file has been quiet for --delay. Each save first writes a
fallback copy to the local store, which 'proposalsync recover' can replay.
Interrupting the command drops a pending save unless --flush is set.`,
		Example: `  proposalsync watch doc-q3 ./proposal.json
  proposalsync watch doc-q3 ./proposal.json --delay 5s --flush`,
		Args: cobra.ExactArgs(2),
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

			if !cmd.Flags().Changed("delay") {
				delay = env.cfg.AutosaveDelay
			}

			initial, err := readSnapshotFile(args[1])
			if err != nil {
				return err
			}

			coord, err := autosave.New(autosave.Config{
				DocumentKey:  args[0],
				Save:         env.client.SaveDocument,
				Fallback:     env.local,
				Delay:        delay,
				SavedDisplay: env.cfg.SavedDisplay,
				Initial:      initial,
				Logger:       env.logger.With("component", "autosave"),
				Metrics:      metrics.NewAutosave(env.registry),
			})
			if err != nil {
				return err
			}

			out := &lockedWriter{w: cmd.OutOrStdout()}
			unsubscribe := coord.Subscribe(func(state autosave.SaveState) {
				fmt.Fprintln(out, describeState(state))
			})
			defer unsubscribe()

			if metricsAddr != "" {
				stop := serveMetrics(env, metricsAddr)
				defer stop()
			}

			fmt.Fprintf(out, "Watching %s as %s (autosave after %s)\n", args[1], args[0], delay)
			w := &fileWatcher{path: args[1], interval: interval, coord: coord, logger: env.logger, last: initial}
			w.run(ctx)

			return finishWatch(ctx, coord, flush, out)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "how often to check the file for changes")
	cmd.Flags().DurationVar(&delay, "delay", autosave.DefaultDelay, "quiet period before a save (default $PROPOSALSYNC_AUTOSAVE_DELAY)")
	cmd.Flags().BoolVar(&flush, "flush", false, "save pending changes before exiting")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")

	return cmd
}

type fileWatcher struct {
	path     string
	interval time.Duration
	coord    *autosave.Coordinator
	logger   *slog.Logger
	last     []byte
}

func (w *fileWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(); err != nil {
				w.logger.Warn("skipping file change", "path", w.path, "err", err)
			}
		}
	}
}

// poll reads the file and hands it to the coordinator when its bytes changed.
// Half-written or invalid JSON is skipped until the next poll.
func (w *fileWatcher) poll() error {
	raw, err := readSnapshotFile(w.path)
	if err != nil {
		return err
	}
	if bytes.Equal(raw, w.last) {
		return nil
	}
	if err := w.coord.Observe(raw); err != nil {
		return err
	}
	w.last = raw
	return nil
}

func finishWatch(ctx context.Context, coord *autosave.Coordinator, flush bool, out io.Writer) error {
	defer coord.Close()
	if !coord.Dirty() {
		return nil
	}
	if !flush {
		fmt.Fprintln(out, "Pending changes were not saved")
		// A failed attempt left its snapshot in the local store.
		if coord.State().Status == autosave.StatusError {
			fmt.Fprintln(out, "The last failed save is kept locally, see 'proposalsync recover'")
		}
		return nil
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := coord.SaveNow(saveCtx); err != nil {
		return fmt.Errorf("flush pending changes: %w", err)
	}
	return nil
}

func readSnapshotFile(path string) (json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(raw), nil
}

func describeState(state autosave.SaveState) string {
	switch state.Status {
	case autosave.StatusSaving:
		return "saving..."
	case autosave.StatusSaved:
		return "saved at " + state.LastSavedAt.Local().Format("15:04:05")
	case autosave.StatusError:
		return "save failed: " + state.LastError
	default:
		if state.Saved() {
			return "idle (last saved " + state.LastSavedAt.Local().Format("15:04:05") + ")"
		}
		return "idle"
	}
}

func serveMetrics(env *clientEnv, addr string) (stop func()) {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Warn("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// lockedWriter serializes writes from coordinator callbacks, which run on
// timer goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
