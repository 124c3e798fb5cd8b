package structure

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cvt2bids/internal/dcmheader"
	"cvt2bids/internal/fileutil"
	"cvt2bids/internal/logging"
	"cvt2bids/internal/services"
)

const missingValue = "NA"

var (
	cleaner = strings.NewReplacer(
		"*", "_", ".", "_", ",", "_", `"`, "_", `\`, "_", "/", "_",
		"|", "_", "[", "_", "]", "_", ":", "_", ";", "_", " ", "_",
	)
	separators = strings.NewReplacer("/", "_", `\`, "_")
)

// CleanText normalizes a folder name component: punctuation, separators
// and spaces become underscores and the result is lower-cased.
func CleanText(value string) string {
	// A Caser keeps state, so each call gets its own.
	return cases.Lower(language.Und).String(cleaner.Replace(value))
}

// Destination returns the archive path for a file with header h below root:
// <root>/<patient>/<study date>/<study>/<series>/<modality>.<series uid>.<instance>.dcm
func Destination(root string, h dcmheader.Header) string {
	folder := filepath.Join(root,
		CleanText(orMissing(h.PatientID)),
		CleanText(orMissing(h.StudyDate)),
		CleanText(orMissing(h.StudyDescription)),
		CleanText(orMissing(h.SeriesDescription)),
	)
	instance := strings.TrimSpace(h.InstanceNumber)
	if instance == "" {
		instance = "0"
	}
	name := strings.Join([]string{
		orMissing(h.Modality),
		orMissing(h.SeriesInstanceUID),
		instance,
	}, ".") + ".dcm"
	return filepath.Join(folder, separators.Replace(name))
}

func orMissing(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return missingValue
	}
	return value
}

// Options control a restructuring run.
type Options struct {
	Source      string
	Destination string
	DryRun      bool
	// Workers bounds concurrent header reads and copies; zero selects the
	// CPU count.
	Workers int
}

// Entry records what happened to one candidate file.
type Entry struct {
	Source      string
	Destination string
	Err         error
}

// Stats summarizes a run.
type Stats struct {
	Candidates int
	Copied     int
	Planned    int
	Unreadable int
	Failed     int
}

// Result bundles per-file entries (in walk order) and totals.
type Result struct {
	Entries []Entry
	Stats   Stats
}

// Restructurer copies a DICOM archive into the normalized layout.
type Restructurer struct {
	reader dcmheader.Reader
	logger *slog.Logger
}

// New constructs a Restructurer. A nil reader selects the on-disk reader.
func New(reader dcmheader.Reader, logger *slog.Logger) *Restructurer {
	if reader == nil {
		reader = dcmheader.NewFileReader()
	}
	return &Restructurer{reader: reader, logger: logging.NewComponentLogger(logger, "structure")}
}

// Candidates lists every file below root whose name may hold DICOM data.
func Candidates(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && dcmheader.IsCandidate(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Run walks opts.Source and copies (or, in dry-run mode, only plans) every
// readable DICOM file into opts.Destination. Unreadable files are counted
// and skipped.
func (r *Restructurer) Run(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Source) == "" || strings.TrimSpace(opts.Destination) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "structure", "run", "source and destination are required", nil)
	}
	srcAbs, err := filepath.Abs(opts.Source)
	if err != nil {
		return Result{}, fmt.Errorf("resolve source: %w", err)
	}
	dstAbs, err := filepath.Abs(opts.Destination)
	if err != nil {
		return Result{}, fmt.Errorf("resolve destination: %w", err)
	}
	if dstAbs == srcAbs || strings.HasPrefix(dstAbs, srcAbs+string(filepath.Separator)) {
		return Result{}, services.Wrap(services.ErrValidation, "structure", "run",
			"destination must not be inside the source tree", nil)
	}

	r.logger.Info("reading file list", logging.String("source", srcAbs))
	files, err := Candidates(ctx, srcAbs)
	if err != nil {
		return Result{}, fmt.Errorf("walk %s: %w", srcAbs, err)
	}
	r.logger.Info("candidate files found", logging.Int("files", len(files)))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	entries := make([]Entry, len(files))
	var (
		mu    sync.Mutex
		stats = Stats{Candidates: len(files)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry := r.process(path, dstAbs, opts.DryRun)
			entries[i] = entry

			mu.Lock()
			defer mu.Unlock()
			switch {
			case entry.Destination == "":
				stats.Unreadable++
			case entry.Err != nil:
				stats.Failed++
			case opts.DryRun:
				stats.Planned++
			default:
				stats.Copied++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Entries: entries, Stats: stats}, err
	}

	r.logger.Info("restructuring finished",
		logging.Int("copied", stats.Copied),
		logging.Int("planned", stats.Planned),
		logging.Int("unreadable", stats.Unreadable),
		logging.Int("failed", stats.Failed),
		logging.Bool("dry_run", opts.DryRun))
	return Result{Entries: entries, Stats: stats}, nil
}

func (r *Restructurer) process(path, dstRoot string, dryRun bool) Entry {
	header, err := r.reader.ReadHeader(path)
	if err != nil {
		r.logger.Debug("skipping unreadable file", logging.String("path", path), logging.Error(err))
		return Entry{Source: path, Err: err}
	}
	dst := Destination(dstRoot, header)
	if dryRun {
		return Entry{Source: path, Destination: dst}
	}
	if err := fileutil.CopyFileVerified(path, dst); err != nil {
		logging.WarnWithContext(r.logger, "copy failed", "copy_failed",
			logging.String("path", path),
			logging.String("destination", dst),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file missing from restructured archive"),
			logging.String(logging.FieldErrorHint, "check free space and destination permissions"))
		return Entry{Source: path, Destination: dst, Err: err}
	}
	return Entry{Source: path, Destination: dst}
}
