// Package dcmheader reads the DICOM header attributes cvt2bids groups and
// names data by.
//
// Parsing is delegated to github.com/suyashkumar/dicom with pixel data
// skipped; this package only selects elements, normalizes their values to
// strings, and derives session labels. The Reader interface lets callers
// substitute canned headers in tests.
package dcmheader
