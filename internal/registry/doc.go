// Package registry holds the participants.tsv table that maps raw DICOM
// patient ids to pseudonymous BIDS participant ids.
//
// Rows keep their file order and unknown columns survive a load/save cycle.
// Identifier columns (osepa_id, lab_id, neurorad_id, dcm_header_id by
// default) are held as string lists and written back comma-joined. A
// Registry is not safe for concurrent use; the conversion run owns it and
// serializes access behind a file lock.
package registry
