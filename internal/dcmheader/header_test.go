package dcmheader_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"cvt2bids/internal/dcmheader"
	"cvt2bids/internal/testsupport"
)

func TestReadHeaderExtractsSubjectFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IM0001")
	testsupport.WriteDICOM(t, path, testsupport.DICOMFields{
		tag.InstitutionName:   "Uniklinik",
		tag.AcquisitionDate:   "20210304",
		tag.PatientName:       "DOE^JANE",
		tag.PatientID:         "  PAT-17 ",
		tag.PatientBirthDate:  "19800101",
		tag.PatientSex:        "F",
		tag.Modality:          "MR",
		tag.SeriesDescription: "t1_mprage",
		tag.InstanceNumber:    "4",
	})

	header, err := dcmheader.NewFileReader().ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if header.PatientID != "PAT-17" {
		t.Fatalf("expected trimmed patient id, got %q", header.PatientID)
	}
	if header.PatientName != "DOE^JANE" || header.PatientSex != "F" || header.PatientBirth != "19800101" {
		t.Fatalf("unexpected patient fields: %+v", header)
	}
	if header.InstitutionName != "Uniklinik" || header.AcquisitionDate != "20210304" {
		t.Fatalf("unexpected study fields: %+v", header)
	}
	if header.ContentDate != "" {
		t.Fatalf("expected empty content date, got %q", header.ContentDate)
	}
	if header.Modality != "MR" || header.SeriesDescription != "t1_mprage" || header.InstanceNumber != "4" {
		t.Fatalf("unexpected series fields: %+v", header)
	}
}

func TestReadHeaderRejectsNonDICOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes")
	if err := os.WriteFile(path, []byte("just text"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := dcmheader.NewFileReader().ReadHeader(path); err == nil {
		t.Fatal("expected parse error for plain text file")
	}
	if _, err := dcmheader.NewFileReader().ReadHeader(dir); !errors.Is(err, dcmheader.ErrNotRegular) {
		t.Fatalf("expected ErrNotRegular for directory, got %v", err)
	}
}

func TestIsCandidate(t *testing.T) {
	tests := map[string]bool{
		"IM0001":     true,
		"slice.dcm":  true,
		"SLICE.DCM":  true,
		"notes.txt":  false,
		"scan.nii":   false,
		".DS_Store":  false,
		"DICOMDIR":   true,
		"image.json": false,
	}
	for name, want := range tests {
		if got := dcmheader.IsCandidate(name); got != want {
			t.Errorf("IsCandidate(%q) = %v, want %v", name, got, want)
		}
	}
}

type stubReader struct {
	headers map[string]dcmheader.Header
	calls   []string
}

func (s *stubReader) ReadHeader(path string) (dcmheader.Header, error) {
	s.calls = append(s.calls, filepath.Base(path))
	h, ok := s.headers[filepath.Base(path)]
	if !ok {
		return dcmheader.Header{}, errors.New("not dicom")
	}
	return h, nil
}

func TestFirstReadableSkipsUnreadableAndNonCandidates(t *testing.T) {
	reader := &stubReader{headers: map[string]dcmheader.Header{
		"b.dcm": {PatientID: "B"},
		"c":     {PatientID: "C"},
	}}
	path, header, ok := dcmheader.FirstReadable(reader, "/data", []string{"notes.txt", "a", "b.dcm", "c"})
	if !ok {
		t.Fatal("expected a readable file")
	}
	if path != filepath.Join("/data", "b.dcm") || header.PatientID != "B" {
		t.Fatalf("unexpected result: %s %+v", path, header)
	}
	if len(reader.calls) != 2 {
		t.Fatalf("expected two read attempts (a, b.dcm), got %v", reader.calls)
	}

	if _, _, ok := dcmheader.FirstReadable(reader, "/data", []string{"x.txt", "y"}); ok {
		t.Fatal("expected no readable file")
	}
}

func TestSessionLabel(t *testing.T) {
	tests := []struct {
		name   string
		header dcmheader.Header
		want   string
	}{
		{"acquisition date", dcmheader.Header{AcquisitionDate: "2021-03-04", ContentDate: "20200101"}, "20210304"},
		{"content date fallback", dcmheader.Header{ContentDate: "2020.01.01"}, "20200101"},
		{"no dates", dcmheader.Header{}, "1"},
		{"non numeric acquisition date", dcmheader.Header{AcquisitionDate: "unknown", ContentDate: "20190505"}, "20190505"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dcmheader.SessionLabel(tt.header, "1"); got != tt.want {
				t.Fatalf("SessionLabel = %q, want %q", got, tt.want)
			}
		})
	}
}
