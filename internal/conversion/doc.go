// Package conversion runs one DICOM to BIDS conversion end to end.
//
// A run takes the registry lock, loads participants.tsv, groups the DICOM
// directories by participant, writes a registry checkpoint, invokes
// dcm2bids for every job, folds the JSON sidecars back into the registry
// and writes it again. Every run and job is recorded in the ledger.
package conversion
