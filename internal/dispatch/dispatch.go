package dispatch

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cvt2bids/internal/logging"
	"cvt2bids/internal/plan"
	"cvt2bids/internal/services"
	"cvt2bids/internal/services/dcm2bids"
)

// Result captures the outcome of one job.
type Result struct {
	Job      plan.Job
	Outcome  string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Options control how jobs are scheduled.
type Options struct {
	Parallel bool
	// Workers caps the pool in parallel mode; zero selects the CPU count.
	Workers int
	// OnResult is called once per finished job. Calls are serialized.
	OnResult func(Result)
}

// Dispatcher runs conversion jobs through a Converter.
type Dispatcher struct {
	converter dcm2bids.Converter
	logger    *slog.Logger
}

// New constructs a Dispatcher.
func New(converter dcm2bids.Converter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		converter: converter,
		logger:    logging.NewComponentLogger(logger, "dispatch"),
	}
}

// PoolSize returns the number of concurrent participant workers for groups.
func PoolSize(groups, workers int) int {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if groups < workers {
		workers = groups
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Run executes every job of p and waits for all of them. A failing job does
// not stop the others. After ctx is canceled no new job starts; the ones
// not started are reported as canceled.
func (d *Dispatcher) Run(ctx context.Context, p *plan.Plan, opts Options) []Result {
	if p == nil || len(p.Jobs) == 0 {
		return nil
	}

	var mu sync.Mutex
	report := func(r Result) {
		if opts.OnResult == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		opts.OnResult(r)
	}

	if !opts.Parallel {
		d.logger.Info("running conversions sequentially", logging.Int("jobs", len(p.Jobs)))
		results := make([]Result, 0, len(p.Jobs))
		for _, job := range p.Jobs {
			r := d.runJob(ctx, job)
			report(r)
			results = append(results, r)
		}
		return results
	}

	size := PoolSize(len(p.Groups), opts.Workers)
	d.logger.Info("running conversions in parallel",
		logging.Int("jobs", len(p.Jobs)),
		logging.Int("participants", len(p.Groups)),
		logging.Int("workers", size))

	perGroup := make([][]Result, len(p.Groups))
	var g errgroup.Group
	g.SetLimit(size)
	for i, group := range p.Groups {
		g.Go(func() error {
			out := make([]Result, 0, len(group.Jobs))
			for _, job := range group.Jobs {
				r := d.runJob(ctx, job)
				report(r)
				out = append(out, r)
			}
			perGroup[i] = out
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(p.Jobs))
	for _, group := range perGroup {
		results = append(results, group...)
	}
	return results
}

func (d *Dispatcher) runJob(ctx context.Context, job plan.Job) Result {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Outcome: services.OutcomeCanceled, Started: started, Err: err}
	}

	jobCtx := services.WithParticipant(ctx, job.ParticipantID)
	jobCtx = services.WithDirectory(jobCtx, job.Directory)
	logger := logging.WithContext(jobCtx, d.logger)

	err := d.converter.Convert(jobCtx, dcm2bids.Request{
		Directory:  job.Directory,
		Label:      job.Label,
		ConfigPath: job.ConfigPath,
		OutputDir:  job.OutputDir,
		Session:    job.Session,
	})
	result := Result{
		Job:      job,
		Outcome:  services.FailureOutcome(err),
		Started:  started,
		Duration: time.Since(started),
		Err:      err,
	}
	if err != nil {
		logging.ErrorWithContext(logger, "conversion failed", "conversion_failed",
			logging.String("outcome", result.Outcome),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rerun with --log-level debug to see dcm2bids output"))
		return result
	}
	logger.Info("conversion finished", logging.Duration("duration", result.Duration))
	return result
}

// Summary counts results by outcome.
type Summary struct {
	Converted int
	Failed    int
	Timeout   int
	Canceled  int
	Skipped   int
}

// Total returns the number of counted results.
func (s Summary) Total() int {
	return s.Converted + s.Failed + s.Timeout + s.Canceled + s.Skipped
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Outcome {
		case services.OutcomeConverted:
			s.Converted++
		case services.OutcomeTimeout:
			s.Timeout++
		case services.OutcomeCanceled:
			s.Canceled++
		case services.OutcomeSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}
