// Package dcm2bids wraps the dcm2bids command-line converter.
//
// The client builds the argument vector for a single DICOM directory, runs
// it through an Executor (replaceable in tests) with an optional timeout,
// and streams the tool's combined output into the debug log. Failures are
// tagged with services markers so callers can tell timeouts from tool
// errors.
package dcm2bids
