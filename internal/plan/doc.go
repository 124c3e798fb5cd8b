// Package plan performs the grouping pass of a conversion run.
//
// Build walks the input tree, reads the first DICOM file of each directory,
// resolves its patient id against the participant registry (allocating new
// participants when needed) and emits one Job per directory. Jobs are also
// grouped per participant, in first-seen order, so the dispatcher can
// parallelize at participant granularity.
package plan
