package pipeline

// #region imports
import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kostaslazaros/cpgenius/internal/progress"
)

// #endregion

// #region pool

// Outcome pairs a job with how it ended.
type Outcome struct {
	Input  Input
	Result *Result
	Err    error
}

// Pool runs jobs on a bounded number of workers. Jobs never affect each
// other: one failing does not cancel the rest.
type Pool struct {
	orch  *Orchestrator
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool returns a pool of workers running on o. workers <= 0 means one
// per CPU.
func NewPool(o *Orchestrator, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{orch: o, slots: make(chan struct{}, workers)}
}

// Run executes every input and returns their outcomes in input order. It
// shares the worker slots with Submit.
func (p *Pool) Run(ctx context.Context, inputs []Input) []Outcome {
	out := make([]Outcome, len(inputs))
	var g errgroup.Group
	for i, in := range inputs {
		if in.JobID == "" {
			in.JobID = NewJobID()
		}
		g.Go(func() error {
			p.slots <- struct{}{}
			defer func() { <-p.slots }()
			res, err := p.orch.Run(ctx, in)
			out[i] = Outcome{Input: in, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()
	return out
}

// Submit queues one job and returns its id at once. The outcome is sent on
// the returned channel when the job ends.
func (p *Pool) Submit(ctx context.Context, in Input) (string, <-chan Outcome) {
	if in.JobID == "" {
		in.JobID = NewJobID()
	}
	progress.NewTracker(in.JobID, p.orch.sink, p.orch.logger).Step(ctx, string(PhaseQueued), "Queued", 0)

	done := make(chan Outcome, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			t := progress.NewTracker(in.JobID, p.orch.sink, p.orch.logger)
			err := jobErr(KindAborted, PhaseQueued, "job aborted before start", ctx.Err())
			t.Emit(ctx, progress.Event{Phase: string(PhaseFailed), Status: err.Error(), Severity: progress.Fatal, ErrorKind: string(KindAborted)})
			done <- Outcome{Input: in, Err: err}
			return
		}
		defer func() { <-p.slots }()
		res, err := p.orch.Run(ctx, in)
		done <- Outcome{Input: in, Result: res, Err: err}
	}()
	return in.JobID, done
}

// Wait blocks until every submitted job has ended.
func (p *Pool) Wait() { p.wg.Wait() }

// #endregion
