package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"cvt2bids/internal/config"
	"cvt2bids/internal/dcmheader"
	"cvt2bids/internal/dispatch"
	"cvt2bids/internal/ledger"
	"cvt2bids/internal/logging"
	"cvt2bids/internal/metrics"
	"cvt2bids/internal/plan"
	"cvt2bids/internal/registry"
	"cvt2bids/internal/runlock"
	"cvt2bids/internal/services"
	"cvt2bids/internal/services/dcm2bids"
	"cvt2bids/internal/sidecar"
)

// Request describes one convert invocation.
type Request struct {
	InputDir   string
	OutputDir  string
	ConfigPath string
	// RegistryPath selects the participants file to start from. The result
	// is always written to <OutputDir>/<registry file name>.
	RegistryPath  string
	SubjectID     string
	Pathology     string
	Parallel      bool
	Workers       int
	SkipConverted bool
	DryRun        bool
}

// Report summarizes a finished run.
type Report struct {
	RunID        string
	RegistryPath string
	Plan         *plan.Plan
	Results      []dispatch.Result
	Summary      dispatch.Summary
	Sidecars     sidecar.Stats
	CommandLines []string
	Duration     time.Duration
}

// Runner wires the grouping pass, the dispatcher and the sidecar
// aggregator around a participants registry.
type Runner struct {
	cfg      *config.Config
	base     *slog.Logger
	logger   *slog.Logger
	reader   dcmheader.Reader
	executor dcm2bids.Executor
	store    *ledger.Store
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithReader overrides the DICOM header reader.
func WithReader(reader dcmheader.Reader) Option {
	return func(r *Runner) {
		if reader != nil {
			r.reader = reader
		}
	}
}

// WithExecutor overrides how dcm2bids is launched.
func WithExecutor(exec dcm2bids.Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.executor = exec
		}
	}
}

// WithStore records runs in an already open ledger. Without it the runner
// opens the ledger from the config for each run.
func WithStore(store *ledger.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// NewRunner constructs a Runner.
func NewRunner(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:    cfg,
		base:   logger,
		logger: logging.NewComponentLogger(logger, "conversion"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RegistryDestination returns where the participants file of outputDir lives.
func (r *Runner) RegistryDestination(outputDir string) string {
	return filepath.Join(outputDir, r.cfg.Registry.FileName)
}

// Run executes a conversion. Failed jobs are reported in the Report and do
// not make Run return an error; cancellation does.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	started := r.now()
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "conversion", "create output", req.OutputDir, err)
	}

	destination := r.RegistryDestination(req.OutputDir)
	lock, err := runlock.Acquire(destination)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.logger.Warn("failed to release registry lock", logging.Error(err))
		}
	}()

	reg, source, err := r.loadRegistry(req, destination)
	if err != nil {
		return nil, err
	}

	store := r.store
	if store == nil {
		store, err = ledger.Open(r.cfg)
		if err != nil {
			return nil, err
		}
		defer store.Close()
	}

	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("conversion run started",
		logging.String("input", req.InputDir),
		logging.String("output", req.OutputDir),
		logging.String("registry", source),
		logging.Bool("parallel", req.Parallel),
		logging.Bool("dry_run", req.DryRun))

	if err := store.BeginRun(ctx, ledger.Run{
		ID:           runID,
		InputDir:     req.InputDir,
		OutputDir:    req.OutputDir,
		RegistryPath: destination,
		SubjectID:    req.SubjectID,
		Parallel:     req.Parallel,
		DryRun:       req.DryRun,
		StartedAt:    started,
	}); err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, RegistryPath: destination}
	rec := metrics.NewRecorder()
	if err := r.execute(ctx, logger, store, rec, reg, req, report); err != nil {
		if ferr := store.FinishRun(context.WithoutCancel(ctx), runID, totalsFor(report, ledger.RunFailed)); ferr != nil {
			logger.Warn("failed to record run result", logging.Error(ferr))
		}
		return report, err
	}
	report.Duration = r.now().Sub(started)

	status := ledger.RunFinished
	if report.Summary.Failed+report.Summary.Timeout+report.Summary.Canceled > 0 {
		status = ledger.RunFailed
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), runID, totalsFor(report, status)); err != nil {
		return report, err
	}
	if !req.DryRun {
		rec.SetParticipantsCreated(len(report.Plan.Created))
		rec.SetSidecarsRead(report.Sidecars.Sidecars)
		rec.Finish(started, started.Add(report.Duration))
		if err := rec.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
			logging.WarnWithContext(logger, "metrics textfile not written", "metrics_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run results are unaffected"))
		}
	}

	logger.Info("conversion run finished",
		logging.Int("converted", report.Summary.Converted),
		logging.Int("failed", report.Summary.Failed+report.Summary.Timeout),
		logging.Int("skipped", report.Summary.Skipped),
		logging.Duration("duration", report.Duration))
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, store *ledger.Store, rec *metrics.Recorder, reg *registry.Registry, req Request, report *Report) error {
	planner := plan.New(r.reader, r.base)
	p, err := planner.Build(ctx, reg, plan.Options{
		InputDir:        req.InputDir,
		OutputDir:       req.OutputDir,
		ConfigPath:      req.ConfigPath,
		Pathology:       req.Pathology,
		FallbackSession: r.cfg.Workflow.FallbackSession,
		SubjectID:       req.SubjectID,
	})
	if err != nil {
		return err
	}
	report.Plan = p

	var skipped []dispatch.Result
	if req.SkipConverted {
		p, skipped, err = filterConverted(ctx, store, p)
		if err != nil {
			return err
		}
		report.Plan = p
	}

	client, err := r.converter()
	if err != nil {
		return err
	}

	if req.DryRun {
		for _, job := range p.Jobs {
			report.CommandLines = append(report.CommandLines, client.CommandLine(requestFor(job)))
		}
		report.Results = skipped
		report.Summary = dispatch.Summarize(skipped)
		logger.Info("dry run; registry left untouched", logging.Int("jobs", len(p.Jobs)))
		return nil
	}

	if err := reg.Save(report.RegistryPath); err != nil {
		return err
	}
	logger.Info("registry checkpoint written",
		logging.String("path", report.RegistryPath),
		logging.Int("participants", reg.Len()),
		logging.Int("created", len(p.Created)))

	runID, _ := services.RunIDFromContext(ctx)
	record := func(res dispatch.Result) {
		rec.ObserveJob(res.Outcome)
		job := ledger.Job{
			RunID:         runID,
			ParticipantID: res.Job.ParticipantID,
			Directory:     res.Job.Directory,
			OutputDir:     res.Job.OutputDir,
			Session:       res.Job.Session,
			Outcome:       res.Outcome,
			Duration:      res.Duration,
		}
		if res.Err != nil {
			job.ErrorMessage = res.Err.Error()
		}
		if err := store.RecordJob(context.WithoutCancel(ctx), job); err != nil {
			logger.Warn("failed to record job", logging.Error(err))
		}
	}
	for _, res := range skipped {
		record(res)
	}

	dispatcher := dispatch.New(client, r.base)
	results := dispatcher.Run(ctx, p, dispatch.Options{
		Parallel: req.Parallel,
		Workers:  req.Workers,
		OnResult: record,
	})
	report.Results = append(skipped, results...)
	report.Summary = dispatch.Summarize(report.Results)

	aggregator := sidecar.New(r.cfg.Sidecar.Fields, r.base)
	stats, aggErr := aggregator.Apply(ctx, reg, req.OutputDir)
	report.Sidecars = stats
	if err := reg.Save(report.RegistryPath); err != nil {
		return err
	}
	logger.Info("registry written", logging.String("path", report.RegistryPath))
	if aggErr != nil && !errors.Is(aggErr, context.Canceled) {
		return aggErr
	}
	return nil
}

func (r *Runner) loadRegistry(req Request, destination string) (*registry.Registry, string, error) {
	opts := []registry.Option{
		registry.WithIDColumns(r.cfg.Registry.IDColumns),
		registry.WithDigits(r.cfg.Registry.IDDigits),
	}
	source := strings.TrimSpace(req.RegistryPath)
	if source == "" {
		if _, err := os.Stat(destination); err == nil {
			source = destination
		}
	}
	if source == "" {
		r.logger.Info("no participants file found; starting an empty registry",
			logging.String("path", destination))
		return registry.New(opts...), destination, nil
	}
	reg, err := registry.Load(source, opts...)
	if err != nil {
		return nil, source, err
	}
	return reg, source, nil
}

func (r *Runner) converter() (*dcm2bids.Client, error) {
	opts := []dcm2bids.Option{
		dcm2bids.WithLogger(r.base),
		dcm2bids.WithForceDcm2niix(r.cfg.Converter.ForceDcm2niix),
		dcm2bids.WithExtraArgs(r.cfg.Converter.ExtraArgs),
	}
	if r.executor != nil {
		opts = append(opts, dcm2bids.WithExecutor(r.executor))
	}
	client, err := dcm2bids.New(r.cfg.ConverterBinary(), r.cfg.Converter.TimeoutSeconds, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "conversion", "converter", "", err)
	}
	return client, nil
}

// filterConverted drops jobs the ledger already saw succeed for the same
// output directory and session. Dropped jobs come back as skipped results.
func filterConverted(ctx context.Context, store *ledger.Store, p *plan.Plan) (*plan.Plan, []dispatch.Result, error) {
	filtered := &plan.Plan{Created: p.Created, Skipped: p.Skipped}
	var skipped []dispatch.Result
	for _, group := range p.Groups {
		kept := plan.Group{ParticipantID: group.ParticipantID}
		for _, job := range group.Jobs {
			done, err := store.Converted(ctx, job.OutputDir, job.Directory, job.Session)
			if err != nil {
				return nil, nil, err
			}
			if done {
				skipped = append(skipped, dispatch.Result{Job: job, Outcome: services.OutcomeSkipped, Started: time.Now()})
				continue
			}
			kept.Jobs = append(kept.Jobs, job)
		}
		if len(kept.Jobs) > 0 {
			filtered.Groups = append(filtered.Groups, kept)
		}
	}
	for _, job := range p.Jobs {
		if !containsJob(skipped, job) {
			filtered.Jobs = append(filtered.Jobs, job)
		}
	}
	return filtered, skipped, nil
}

func containsJob(results []dispatch.Result, job plan.Job) bool {
	for _, res := range results {
		if res.Job.Directory == job.Directory && res.Job.Session == job.Session {
			return true
		}
	}
	return false
}

func requestFor(job plan.Job) dcm2bids.Request {
	return dcm2bids.Request{
		Directory:  job.Directory,
		Label:      job.Label,
		ConfigPath: job.ConfigPath,
		OutputDir:  job.OutputDir,
		Session:    job.Session,
	}
}

func totalsFor(report *Report, status string) ledger.Totals {
	totals := ledger.Totals{
		Jobs:      report.Summary.Total(),
		Converted: report.Summary.Converted,
		Failed:    report.Summary.Failed + report.Summary.Timeout + report.Summary.Canceled,
		Skipped:   report.Summary.Skipped,
		Status:    status,
	}
	if report.Plan != nil {
		totals.ParticipantsCreated = len(report.Plan.Created)
	}
	return totals
}

func validateRequest(req Request) error {
	var missing []string
	if strings.TrimSpace(req.InputDir) == "" {
		missing = append(missing, "input directory")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		missing = append(missing, "output directory")
	}
	if strings.TrimSpace(req.ConfigPath) == "" {
		missing = append(missing, "dcm2bids config")
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrValidation, "conversion", "validate request",
			"missing "+strings.Join(missing, ", "), nil)
	}
	info, err := os.Stat(req.ConfigPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "conversion", "validate request",
			fmt.Sprintf("dcm2bids config %s", req.ConfigPath), err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, "conversion", "validate request",
			fmt.Sprintf("dcm2bids config %s is a directory", req.ConfigPath), nil)
	}
	return nil
}
