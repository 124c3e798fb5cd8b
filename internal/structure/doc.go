// Package structure copies a loosely organized DICOM archive into a
// normalized patient/study/series folder layout.
package structure
