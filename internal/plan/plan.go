package plan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cvt2bids/internal/dcmheader"
	"cvt2bids/internal/logging"
	"cvt2bids/internal/registry"
	"cvt2bids/internal/services"
)

// Skip reasons reported for directories that produce no job.
const (
	SkipNoDICOM        = "no_dicom"
	SkipEmptyPatientID = "empty_patient_id"
	SkipOtherSubject   = "other_subject"
	SkipUnreadable     = "unreadable_directory"
)

// Job is one dcm2bids invocation for a single DICOM directory.
type Job struct {
	Directory     string
	ParticipantID string
	Label         string
	HeaderID      string
	Session       string
	ConfigPath    string
	OutputDir     string
}

// Group collects the jobs of one participant in walk order.
type Group struct {
	ParticipantID string
	Jobs          []Job
}

// Skip records a directory that was passed over.
type Skip struct {
	Directory string
	Reason    string
}

// Plan is the result of the grouping pass.
type Plan struct {
	Jobs    []Job
	Groups  []Group
	Created []string
	Skipped []Skip
}

// Options control a grouping pass.
type Options struct {
	InputDir        string
	OutputDir       string
	ConfigPath      string
	Pathology       string
	FallbackSession string
	// SubjectID restricts the pass to one participant. When the id is not
	// yet registered every DICOM directory is assigned to it.
	SubjectID string
}

// Planner walks DICOM trees and turns them into conversion jobs.
type Planner struct {
	reader dcmheader.Reader
	logger *slog.Logger
}

// New constructs a Planner. A nil reader selects the on-disk reader.
func New(reader dcmheader.Reader, logger *slog.Logger) *Planner {
	if reader == nil {
		reader = dcmheader.NewFileReader()
	}
	return &Planner{
		reader: reader,
		logger: logging.NewComponentLogger(logger, "plan"),
	}
}

// Build walks opts.InputDir in lexical order, resolves every directory's
// patient id against reg (allocating new participants as needed) and
// returns the resulting jobs.
func (p *Planner) Build(ctx context.Context, reg *registry.Registry, opts Options) (*Plan, error) {
	if reg == nil {
		return nil, services.Wrap(services.ErrValidation, "plan", "build", "registry is nil", nil)
	}
	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "plan", "stat input", opts.InputDir, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "plan", "stat input",
			fmt.Sprintf("%s is not a directory", opts.InputDir), nil)
	}
	fallback := strings.TrimSpace(opts.FallbackSession)
	if fallback == "" {
		fallback = "1"
	}

	subject := strings.TrimSpace(opts.SubjectID)
	subjectKnown := false
	if subject != "" {
		subjectKnown = reg.Has(subject)
		if !subjectKnown {
			p.logger.Info("participant not registered; assigning every dicom directory to it",
				logging.String(logging.FieldParticipantID, subject))
			if err := reg.Add(subject, "", opts.InputDir); err != nil {
				return nil, err
			}
		}
	}

	result := &Plan{}
	groupIndex := make(map[string]int)

	walkErr := filepath.WalkDir(opts.InputDir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() {
				logging.WarnWithContext(p.logger, "directory unreadable; skipping", "directory_unreadable",
					logging.String(logging.FieldDirectory, path),
					logging.Error(err),
					logging.String(logging.FieldImpact, "dicom files below this directory are not converted"),
					logging.String(logging.FieldErrorHint, "check directory permissions"))
				result.Skipped = append(result.Skipped, Skip{Directory: path, Reason: SkipUnreadable})
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}

		names, err := fileNames(path)
		if err != nil {
			logging.WarnWithContext(p.logger, "directory listing failed; skipping", "directory_unreadable",
				logging.String(logging.FieldDirectory, path),
				logging.Error(err))
			result.Skipped = append(result.Skipped, Skip{Directory: path, Reason: SkipUnreadable})
			return nil
		}
		if len(names) == 0 {
			return nil
		}

		_, header, ok := dcmheader.FirstReadable(p.reader, path, names)
		if !ok {
			p.logger.Debug("no dicom files found", logging.String(logging.FieldDirectory, path))
			result.Skipped = append(result.Skipped, Skip{Directory: path, Reason: SkipNoDICOM})
			return nil
		}

		rawID := strings.TrimSpace(header.PatientID)
		if rawID == "" {
			logging.WarnWithContext(p.logger, "dicom header has no patient id; skipping", "missing_patient_id",
				logging.String(logging.FieldDirectory, path),
				logging.String(logging.FieldImpact, "directory is not converted"),
				logging.String(logging.FieldErrorHint, "add a participant row and rerun with --id"))
			result.Skipped = append(result.Skipped, Skip{Directory: path, Reason: SkipEmptyPatientID})
			return nil
		}

		participantID, err := p.assign(reg, opts, subject, subjectKnown, rawID, path, result)
		if err != nil {
			return err
		}
		if participantID == "" {
			result.Skipped = append(result.Skipped, Skip{Directory: path, Reason: SkipOtherSubject})
			return nil
		}

		session := dcmheader.SessionLabel(header, fallback)
		job := Job{
			Directory:     path,
			ParticipantID: participantID,
			Label:         registry.Label(participantID),
			HeaderID:      rawID,
			Session:       session,
			ConfigPath:    opts.ConfigPath,
			OutputDir:     opts.OutputDir,
		}
		p.logger.Debug("queued conversion",
			logging.String(logging.FieldDirectory, path),
			logging.String(logging.FieldParticipantID, participantID),
			logging.String("session", session))

		result.Jobs = append(result.Jobs, job)
		idx, ok := groupIndex[participantID]
		if !ok {
			idx = len(result.Groups)
			groupIndex[participantID] = idx
			result.Groups = append(result.Groups, Group{ParticipantID: participantID})
		}
		result.Groups[idx].Jobs = append(result.Groups[idx].Jobs, job)
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("walk %s: %w", opts.InputDir, walkErr)
	}

	p.logger.Info("grouping complete",
		logging.Int("jobs", len(result.Jobs)),
		logging.Int("participants", len(result.Groups)),
		logging.Int("created", len(result.Created)),
		logging.Int("skipped", len(result.Skipped)))
	return result, nil
}

// assign resolves rawID to a participant id. An empty result means the
// directory belongs to a subject outside the current selection.
func (p *Planner) assign(reg *registry.Registry, opts Options, subject string, subjectKnown bool, rawID, dir string, result *Plan) (string, error) {
	if subject != "" {
		if subjectKnown {
			resolved, found := reg.Resolve(rawID)
			if !found || resolved != subject {
				return "", nil
			}
		}
		if _, err := reg.AddHeaderID(subject, rawID); err != nil {
			return "", err
		}
		return subject, nil
	}

	if resolved, found := reg.Resolve(rawID); found {
		added, err := reg.AddHeaderID(resolved, rawID)
		if err != nil {
			return "", err
		}
		if added {
			p.logger.Debug("recorded additional header id",
				logging.String(logging.FieldParticipantID, resolved),
				logging.String("header_id", rawID))
		}
		return resolved, nil
	}

	participantID, err := reg.Allocate(opts.Pathology)
	if err != nil {
		return "", err
	}
	if err := reg.Add(participantID, rawID, dir); err != nil {
		return "", err
	}
	result.Created = append(result.Created, participantID)
	p.logger.Info("created participant",
		logging.String(logging.FieldParticipantID, participantID),
		logging.String(logging.FieldDirectory, dir))
	return participantID, nil
}

func fileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
