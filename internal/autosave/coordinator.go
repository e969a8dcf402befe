// Package autosave turns a continuously edited document into debounced,
// deduplicated writes to a remote store, with a visible save state and a local
// fallback copy for crash recovery.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"proposalsync/internal/durable"
)

const (
	DefaultDelay        = 30 * time.Second
	DefaultSavedDisplay = 2 * time.Second
)

var (
	ErrClosed     = errors.New("autosave coordinator is closed")
	errNoSnapshot = errors.New("no snapshot observed yet")
)

// SaveFunc writes a snapshot to the remote store. Its error message is shown
// to the user as SaveState.LastError.
type SaveFunc func(ctx context.Context, documentKey string, snapshot json.RawMessage) error

type Config struct {
	DocumentKey string
	Save        SaveFunc
	// Fallback receives a FallbackRecord before every remote write. Nil
	// disables the local copy.
	Fallback durable.Store
	// Delay is the quiescence window; every observed change restarts it.
	Delay time.Duration
	// SavedDisplay is how long StatusSaved is shown before returning to idle.
	SavedDisplay time.Duration
	Disabled     bool
	// Initial is the snapshot the document was loaded with. It seeds change
	// detection so that opening a document does not schedule a save.
	Initial any
	Clock   Clock
	Logger  *slog.Logger
	Metrics Metrics
}

type timerState int

const (
	timerIdle timerState = iota
	timerArmed
	timerFiring
)

type Coordinator struct {
	documentKey  string
	save         SaveFunc
	fallback     durable.Store
	delay        time.Duration
	savedDisplay time.Duration
	clock        Clock
	logger       *slog.Logger
	metrics      Metrics

	// saveMu is held for the whole of a save so writes for this document
	// reach the remote store in the order they were started.
	saveMu sync.Mutex

	mu               sync.Mutex
	state            SaveState
	enabled          bool
	closed           bool
	fingerprint      string
	latest           json.RawMessage
	savedFingerprint string
	timer            Timer
	timerGen         uint64
	timerState       timerState
	saveSeq          uint64
	subscribers      map[int]func(SaveState)
	nextSubscriber   int
}

func New(cfg Config) (*Coordinator, error) {
	if strings.TrimSpace(cfg.DocumentKey) == "" {
		return nil, fmt.Errorf("document key is required")
	}
	if cfg.Save == nil {
		return nil, fmt.Errorf("save function is required")
	}

	c := &Coordinator{
		documentKey:  cfg.DocumentKey,
		save:         cfg.Save,
		fallback:     cfg.Fallback,
		delay:        cfg.Delay,
		savedDisplay: cfg.SavedDisplay,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		enabled:      !cfg.Disabled,
		state:        SaveState{Status: StatusIdle},
		subscribers:  make(map[int]func(SaveState)),
	}
	if c.delay <= 0 {
		c.delay = DefaultDelay
	}
	if c.savedDisplay <= 0 {
		c.savedDisplay = DefaultSavedDisplay
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("document_key", cfg.DocumentKey)
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}

	if cfg.Initial != nil {
		raw, err := json.Marshal(cfg.Initial)
		if err != nil {
			return nil, fmt.Errorf("encode initial snapshot: %w", err)
		}
		c.latest = raw
		c.fingerprint = string(raw)
		c.savedFingerprint = c.fingerprint
	}
	return c, nil
}

// DocumentKey returns the key the coordinator saves under.
func (c *Coordinator) DocumentKey() string {
	return c.documentKey
}

// Observe reports the current document. A snapshot whose serialized form
// matches the previous observation is ignored; any other snapshot restarts the
// quiescence window when the coordinator is enabled.
func (c *Coordinator) Observe(snapshot any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	fingerprint := string(raw)
	if fingerprint == c.fingerprint {
		return nil
	}
	c.fingerprint = fingerprint
	c.latest = raw
	if c.enabled {
		c.armLocked()
	}
	return nil
}

// SaveNow saves the latest observed snapshot immediately, cancelling any
// pending timer. It runs even when the snapshot is unchanged or automatic
// saving is disabled, and returns the remote write error.
func (c *Coordinator) SaveNow(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopTimerLocked()
	c.mu.Unlock()
	return c.runSave(ctx)
}

// SetEnabled turns automatic saving on or off. Disabling cancels a pending
// timer; enabling re-arms it only when there are unsaved changes.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.stopTimerLocked()
		return
	}
	if c.dirtyLocked() {
		c.armLocked()
	}
}

func (c *Coordinator) State() SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dirty reports whether the latest observation differs from the last snapshot
// that saved successfully.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirtyLocked()
}

// Subscribe registers fn for every state transition. Calls happen outside the
// coordinator lock, on the goroutine that caused the transition.
func (c *Coordinator) Subscribe(fn func(SaveState)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Close detaches the coordinator. A pending timer is cancelled; a save that is
// already running completes, but its outcome is no longer published.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.subscribers = make(map[int]func(SaveState))
}

func (c *Coordinator) dirtyLocked() bool {
	return c.latest != nil && c.fingerprint != c.savedFingerprint
}

func (c *Coordinator) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timerState = timerArmed
	c.timer = c.clock.AfterFunc(c.delay, func() { c.fire(gen) })
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// A callback that already started sees a stale generation and returns.
	c.timerGen++
	if c.timerState == timerArmed {
		c.timerState = timerIdle
	}
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || !c.enabled || gen != c.timerGen || c.timerState != timerArmed {
		c.mu.Unlock()
		return
	}
	c.timerState = timerFiring
	c.timer = nil
	c.mu.Unlock()

	if err := c.runSave(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Warn("autosave failed", "err", err)
	}

	c.mu.Lock()
	if c.timerGen == gen && c.timerState == timerFiring {
		c.timerState = timerIdle
	}
	c.mu.Unlock()
}

func (c *Coordinator) runSave(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.latest == nil {
		c.mu.Unlock()
		return errNoSnapshot
	}
	snapshot := c.latest
	fingerprint := c.fingerprint
	c.saveSeq++
	seq := c.saveSeq
	c.state.Status = StatusSaving
	saving := c.state
	subscribers := c.subscribersLocked()
	c.mu.Unlock()
	publish(subscribers, saving)

	c.writeFallback(ctx, snapshot)

	c.metrics.SaveStarted()
	started := c.clock.Now()
	err := c.save(ctx, c.documentKey, snapshot)
	elapsed := c.clock.Now().Sub(started)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.recordOutcome(err, elapsed)
		return err
	}
	if err != nil {
		c.state.Status = StatusError
		c.state.LastError = errorMessage(err)
	} else {
		c.state.Status = StatusSaved
		c.state.LastSavedAt = c.clock.Now()
		c.state.LastError = ""
		c.savedFingerprint = fingerprint
		c.clock.AfterFunc(c.savedDisplay, func() { c.settle(seq) })
	}
	finished := c.state
	subscribers = c.subscribersLocked()
	c.mu.Unlock()

	c.recordOutcome(err, elapsed)
	publish(subscribers, finished)
	return err
}

// settle returns StatusSaved to idle unless another save started since seq.
func (c *Coordinator) settle(seq uint64) {
	c.mu.Lock()
	if c.closed || c.saveSeq != seq || c.state.Status != StatusSaved {
		c.mu.Unlock()
		return
	}
	c.state.Status = StatusIdle
	idle := c.state
	subscribers := c.subscribersLocked()
	c.mu.Unlock()
	publish(subscribers, idle)
}

func (c *Coordinator) writeFallback(ctx context.Context, snapshot json.RawMessage) {
	if c.fallback == nil {
		return
	}
	record := FallbackRecord{Snapshot: snapshot, Timestamp: c.clock.Now()}
	if err := writeFallback(ctx, c.fallback, c.documentKey, record); err != nil {
		c.logger.Warn("autosave fallback write failed", "err", err)
		c.metrics.FallbackFailed()
	}
}

func (c *Coordinator) recordOutcome(err error, elapsed time.Duration) {
	if err != nil {
		c.metrics.SaveFinished(OutcomeFailed, elapsed)
		return
	}
	c.metrics.SaveFinished(OutcomeSaved, elapsed)
}

func (c *Coordinator) subscribersLocked() []func(SaveState) {
	if len(c.subscribers) == 0 {
		return nil
	}
	out := make([]func(SaveState), 0, len(c.subscribers))
	for id := 0; id < c.nextSubscriber; id++ {
		if fn, ok := c.subscribers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func publish(subscribers []func(SaveState), state SaveState) {
	for _, fn := range subscribers {
		fn(state)
	}
}

func errorMessage(err error) string {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "save failed"
	}
	return message
}
