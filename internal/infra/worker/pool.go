package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// RunFunc is one driver invocation for one job.
type RunFunc func(ctx context.Context, jobID string) error

// Pool runs driver invocations. Submitting a jobID is the explicit
// continuation boundary: budget-exhausted drivers re-enter through the same
// queue as fresh trigger starts.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan string
	quit chan struct{}
	n    int
	log  *zerolog.Logger
}

var _ Continuations = (*Pool)(nil)

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	poolLog := logger.With().Str("component", "DriverPool").Logger()
	return &Pool{
		jobs: make(chan string, workers*4),
		quit: make(chan struct{}),
		n:    workers,
		log:  &poolLog,
	}
}

func (p *Pool) Start(ctx context.Context, run RunFunc) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case jobID := <-p.jobs:
					if jobID == "" {
						continue
					}
					if err := run(ctx, jobID); err != nil {
						p.log.Error().Err(err).Int("worker", id).Str("job_id", jobID).
							Msg("driver invocation error")
					}
				}
			}
		}(i)
	}
}

func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

// Continue enqueues a driver invocation for jobID.
func (p *Pool) Continue(jobID string) error {
	if jobID == "" {
		return errors.New("empty job id")
	}
	select {
	case p.jobs <- jobID:
		return nil
	default:
		// drop when saturated; the job stays claimable and resumes via a
		// forced trigger run or an operator reclaim
		return errors.New("driver queue full")
	}
}
