// Package sidecar folds metadata from the JSON sidecars dcm2bids writes
// next to each NIfTI file back into the participant registry.
//
// Sidecars are found at <out>/<participant>/<session>/<datatype>/*.json.
// For every configured key the distinct values across a participant's
// sidecars are joined with ";" in first-seen order.
package sidecar
