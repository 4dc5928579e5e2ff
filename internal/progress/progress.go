// Package progress carries job progress from the pipeline to whoever is
// watching it.
package progress

// #region imports
import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// #endregion

// #region event

// Severity distinguishes plain progress from a recoverable warning and a
// fatal failure.
type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Fatal   Severity = "error"
)

// Event is one progress update of a job.
type Event struct {
	JobID     string            `json:"job_id"`
	Phase     string            `json:"phase"`
	Status    string            `json:"status"`
	Percent   int               `json:"progress"`
	Severity  Severity          `json:"severity"`
	Warning   string            `json:"warning,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	At        time.Time         `json:"at"`
}

// #endregion

// #region sink

// Sink receives progress events. Implementations must be safe for use by
// several jobs at once.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// #endregion

// #region tracker

// Tracker emits the events of one job and keeps its percentage from ever
// going down or past 100. Sink failures are logged and otherwise ignored;
// observers lagging behind never stop a job.
type Tracker struct {
	jobID  string
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	percent int
	phase   string
}

// NewTracker returns a tracker for jobID. A nil sink discards events.
func NewTracker(jobID string, sink Sink, logger *slog.Logger) *Tracker {
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{jobID: jobID, sink: sink, logger: logger, now: time.Now}
}

// Emit sends ev stamped with the job id and time. Its percentage is
// clamped to [last, 100].
func (t *Tracker) Emit(ctx context.Context, ev Event) Event {
	t.mu.Lock()
	ev.Percent = min(max(ev.Percent, t.percent), 100)
	t.percent = ev.Percent
	if ev.Phase == "" {
		ev.Phase = t.phase
	}
	t.phase = ev.Phase
	t.mu.Unlock()

	ev.JobID = t.jobID
	if ev.Severity == "" {
		ev.Severity = Info
	}
	if ev.At.IsZero() {
		ev.At = t.now().UTC()
	}
	if err := t.sink.Notify(context.WithoutCancel(ctx), ev); err != nil {
		t.logger.Warn("progress sink failed", "job_id", t.jobID, "phase", ev.Phase, "err", err)
	}
	return ev
}

// Step emits an informational event.
func (t *Tracker) Step(ctx context.Context, phase, status string, percent int) {
	t.Emit(ctx, Event{Phase: phase, Status: status, Percent: percent})
}

// Percent returns the last emitted percentage.
func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

// #endregion
