// Package logging assembles structured slog loggers used across cvt2bids.
//
// It owns the console and JSON handlers, level parsing, and output plumbing
// (stderr plus an optional log file), and exposes context-aware helpers so
// conversion code can tag lines with the run id, participant id, and DICOM
// directory. A no-op logger is provided for tests.
package logging
