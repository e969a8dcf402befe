package autosave

import (
	"time"
)

// Status is the visible phase of the save cycle.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// SaveState is what the UI renders. LastSavedAt is zero until the first
// successful save; LastError is empty unless Status is StatusError.
type SaveState struct {
	Status      Status    `json:"status"`
	LastSavedAt time.Time `json:"lastSavedAt,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
}

// Saved reports whether a save has ever succeeded.
func (s SaveState) Saved() bool {
	return !s.LastSavedAt.IsZero()
}

// Clock is the time source behind the debounce timer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Metrics receives save lifecycle events.
type Metrics interface {
	SaveStarted()
	SaveFinished(outcome string, elapsed time.Duration)
	FallbackFailed()
}

type NoopMetrics struct{}

func (NoopMetrics) SaveStarted()                        {}
func (NoopMetrics) SaveFinished(string, time.Duration) {}
func (NoopMetrics) FallbackFailed()                    {}

const (
	OutcomeSaved  = "saved"
	OutcomeFailed = "failed"
)
