// Package services defines shared utilities consumed by the conversion
// pipeline and its external-tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run ids, participant ids, and DICOM
//     directories for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into job outcomes (converted, failed, timeout, canceled).
//
// Subpackages wrap the external command-line programs the pipeline drives.
package services
