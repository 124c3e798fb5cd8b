package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"cvt2bids/internal/logging"
	"cvt2bids/internal/registry"
)

// FieldAcquisitionDateTime is reduced to its date part when aggregated.
const FieldAcquisitionDateTime = "AcquisitionDateTime"

// DefaultFields are the sidecar keys copied into the registry.
var DefaultFields = []string{
	"PatientName",
	"PatientID",
	"PatientBirthDate",
	"PatientAge",
	"PatientSex",
	FieldAcquisitionDateTime,
	"DeviceSerialNumber",
}

// Stats summarizes an aggregation pass.
type Stats struct {
	Participants int
	Sidecars     int
	Unreadable   int
}

// Aggregator folds JSON sidecar metadata back into the registry.
type Aggregator struct {
	fields []string
	logger *slog.Logger
}

// New constructs an Aggregator. Empty fields select DefaultFields.
func New(fields []string, logger *slog.Logger) *Aggregator {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return &Aggregator{
		fields: slices.Clone(fields),
		logger: logging.NewComponentLogger(logger, "sidecar"),
	}
}

// Fields returns the aggregated keys.
func (a *Aggregator) Fields() []string {
	return slices.Clone(a.fields)
}

// Paths lists the sidecars of a participant below outputDir.
func Paths(outputDir, participantID string) ([]string, error) {
	pattern := filepath.Join(outputDir, participantID, "*", "*", "*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob sidecars: %w", err)
	}
	return matches, nil
}

// Collect reads the participant's sidecars and returns one joined value per
// field. Fields never seen map to empty strings.
func (a *Aggregator) Collect(outputDir, participantID string) (map[string]string, int, int, error) {
	paths, err := Paths(outputDir, participantID)
	if err != nil {
		return nil, 0, 0, err
	}
	seen := make(map[string][]string, len(a.fields))
	read, unreadable := 0, 0
	for _, path := range paths {
		doc, err := readSidecar(path)
		if err != nil {
			unreadable++
			logging.WarnWithContext(a.logger, "sidecar unreadable; skipping", "sidecar_unreadable",
				logging.String(logging.FieldParticipantID, participantID),
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "participant metadata may be incomplete"))
			continue
		}
		read++
		a.logger.Debug("found sidecar",
			logging.String(logging.FieldParticipantID, participantID),
			logging.String("path", path))
		for _, field := range a.fields {
			raw, ok := doc[field]
			if !ok {
				continue
			}
			value, ok := stringify(raw)
			if !ok {
				continue
			}
			if field == FieldAcquisitionDateTime {
				value = DatePart(value)
			}
			if !slices.Contains(seen[field], value) {
				seen[field] = append(seen[field], value)
			}
		}
	}

	out := make(map[string]string, len(a.fields))
	for _, field := range a.fields {
		out[field] = strings.Join(seen[field], ";")
	}
	return out, read, unreadable, nil
}

// Apply aggregates sidecars for every registered participant.
func (a *Aggregator) Apply(ctx context.Context, reg *registry.Registry, outputDir string) (Stats, error) {
	var stats Stats
	for _, pid := range reg.Participants() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		values, read, unreadable, err := a.Collect(outputDir, pid)
		if err != nil {
			return stats, err
		}
		for _, field := range a.fields {
			if err := reg.Set(pid, field, values[field]); err != nil {
				return stats, err
			}
		}
		stats.Participants++
		stats.Sidecars += read
		stats.Unreadable += unreadable
	}
	a.logger.Info("sidecar metadata aggregated",
		logging.Int("participants", stats.Participants),
		logging.Int("sidecars", stats.Sidecars),
		logging.Int("unreadable", stats.Unreadable))
	return stats, nil
}

func readSidecar(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

func stringify(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}

// DatePart reduces an acquisition timestamp to its date by cutting it at the
// "T". Values without one are returned trimmed but otherwise unchanged.
func DatePart(value string) string {
	value = strings.TrimSpace(value)
	if before, _, ok := strings.Cut(value, "T"); ok {
		return before
	}
	return value
}
