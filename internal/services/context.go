package services

import "context"

type contextKey string

const (
	runIDKey       contextKey = "run_id"
	participantKey contextKey = "participant_id"
	directoryKey   contextKey = "directory"
)

// WithRunID annotates context with the conversion run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithParticipant annotates context with a BIDS participant id.
func WithParticipant(ctx context.Context, participantID string) context.Context {
	if participantID == "" {
		return ctx
	}
	return context.WithValue(ctx, participantKey, participantID)
}

// ParticipantFromContext returns the participant id if present.
func ParticipantFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(participantKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithDirectory annotates context with the DICOM directory being processed.
func WithDirectory(ctx context.Context, dir string) context.Context {
	if dir == "" {
		return ctx
	}
	return context.WithValue(ctx, directoryKey, dir)
}

// DirectoryFromContext returns the DICOM directory if present.
func DirectoryFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(directoryKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
