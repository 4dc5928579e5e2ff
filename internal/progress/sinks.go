package progress

import (
	"context"
	"log/slog"
	"sync"
)

// #region log-sink

// LogSink writes every event to a slog logger at a level matching its
// severity.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, ev Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	switch ev.Severity {
	case Warning:
		level = slog.LevelWarn
	case Fatal:
		level = slog.LevelError
	}
	attrs := []any{"job_id", ev.JobID, "phase", ev.Phase, "progress", ev.Percent}
	if ev.Warning != "" {
		attrs = append(attrs, "warning", ev.Warning)
	}
	if ev.ErrorKind != "" {
		attrs = append(attrs, "error_kind", ev.ErrorKind)
	}
	l.Log(ctx, level, ev.Status, attrs...)
	return nil
}

// #endregion

// #region chan-sink

// Chan delivers events on a channel. Notify blocks until the event is
// received or ctx is done.
type Chan chan Event

func (c Chan) Notify(ctx context.Context, ev Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// #endregion

// #region recorder

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Job returns the recorded events of one job.
func (r *Recorder) Job(id string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.JobID == id {
			out = append(out, ev)
		}
	}
	return out
}

// #endregion
