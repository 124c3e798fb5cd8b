package dcmheader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Header holds the subset of DICOM attributes the pipeline consumes. Every
// field is a comma-joined list of the distinct non-empty values of its
// element; absent elements are empty strings.
type Header struct {
	InstitutionName string
	AcquisitionDate string
	ContentDate     string
	PatientName     string
	PatientID       string
	PatientBirth    string
	PatientSex      string
	PatientSize     string
	PatientWeight   string

	StudyDate         string
	StudyDescription  string
	SeriesDescription string
	Modality          string
	SeriesInstanceUID string
	InstanceNumber    string
}

// Reader decodes DICOM headers.
type Reader interface {
	ReadHeader(path string) (Header, error)
}

// FileReader reads headers from disk with pixel data skipped.
type FileReader struct{}

// NewFileReader returns the default on-disk header reader.
func NewFileReader() FileReader {
	return FileReader{}
}

type fieldBinding struct {
	tag tag.Tag
	dst func(*Header) *string
}

var bindings = []fieldBinding{
	{tag.InstitutionName, func(h *Header) *string { return &h.InstitutionName }},
	{tag.AcquisitionDate, func(h *Header) *string { return &h.AcquisitionDate }},
	{tag.ContentDate, func(h *Header) *string { return &h.ContentDate }},
	{tag.PatientName, func(h *Header) *string { return &h.PatientName }},
	{tag.PatientID, func(h *Header) *string { return &h.PatientID }},
	{tag.PatientBirthDate, func(h *Header) *string { return &h.PatientBirth }},
	{tag.PatientSex, func(h *Header) *string { return &h.PatientSex }},
	{tag.PatientSize, func(h *Header) *string { return &h.PatientSize }},
	{tag.PatientWeight, func(h *Header) *string { return &h.PatientWeight }},
	{tag.StudyDate, func(h *Header) *string { return &h.StudyDate }},
	{tag.StudyDescription, func(h *Header) *string { return &h.StudyDescription }},
	{tag.SeriesDescription, func(h *Header) *string { return &h.SeriesDescription }},
	{tag.Modality, func(h *Header) *string { return &h.Modality }},
	{tag.SeriesInstanceUID, func(h *Header) *string { return &h.SeriesInstanceUID }},
	{tag.InstanceNumber, func(h *Header) *string { return &h.InstanceNumber }},
}

// ReadHeader parses path and extracts the bound attributes.
func (FileReader) ReadHeader(path string) (Header, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Header{}, fmt.Errorf("stat dicom: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Header{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return Header{}, fmt.Errorf("parse dicom %s: %w", path, err)
	}

	var header Header
	for _, b := range bindings {
		elem, err := dataset.FindElementByTag(b.tag)
		if err != nil {
			continue
		}
		*b.dst(&header) = strings.Join(elementStrings(elem), ",")
	}
	return header, nil
}

// ErrNotRegular is returned for paths that are not regular files.
var ErrNotRegular = errors.New("not a regular file")

func elementStrings(elem *dicom.Element) []string {
	if elem == nil || elem.Value == nil {
		return nil
	}
	var raw []string
	switch v := elem.Value.GetValue().(type) {
	case []string:
		raw = v
	case []int:
		for _, n := range v {
			raw = append(raw, strconv.Itoa(n))
		}
	case []float64:
		for _, f := range v {
			raw = append(raw, strconv.FormatFloat(f, 'g', -1, 64))
		}
	default:
		return nil
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.Trim(s, " \x00")
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// IsCandidate reports whether a file name may hold DICOM data: either a
// .dcm extension or no extension at all.
func IsCandidate(name string) bool {
	ext := filepath.Ext(name)
	return ext == "" || strings.EqualFold(ext, ".dcm")
}

// FirstReadable scans names (in order) inside dir and returns the first
// candidate that parses as DICOM.
func FirstReadable(r Reader, dir string, names []string) (string, Header, bool) {
	for _, name := range names {
		if !IsCandidate(name) {
			continue
		}
		path := filepath.Join(dir, name)
		header, err := r.ReadHeader(path)
		if err != nil {
			continue
		}
		return path, header, true
	}
	return "", Header{}, false
}

// SessionLabel derives the BIDS session label from the acquisition date,
// falling back to the content date and then to fallback.
func SessionLabel(h Header, fallback string) string {
	if digits := onlyDigits(h.AcquisitionDate); digits != "" {
		return digits
	}
	if digits := onlyDigits(h.ContentDate); digits != "" {
		return digits
	}
	return fallback
}

func onlyDigits(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
}
