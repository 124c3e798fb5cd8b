package plan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"cvt2bids/internal/dcmheader"
	"cvt2bids/internal/logging"
	"cvt2bids/internal/plan"
	"cvt2bids/internal/registry"
)

type fakeReader map[string]dcmheader.Header

func (f fakeReader) ReadHeader(path string) (dcmheader.Header, error) {
	h, ok := f[path]
	if !ok {
		return dcmheader.Header{}, errors.New("not dicom")
	}
	return h, nil
}

type tree struct {
	t      *testing.T
	root   string
	reader fakeReader
}

func newTree(t *testing.T) *tree {
	t.Helper()
	return &tree{t: t, root: t.TempDir(), reader: fakeReader{}}
}

// dicom creates rel as a file and registers its header with the fake reader.
func (tr *tree) dicom(rel string, header dcmheader.Header) string {
	tr.t.Helper()
	path := tr.file(rel)
	tr.reader[path] = header
	return filepath.Dir(path)
}

func (tr *tree) file(rel string) string {
	tr.t.Helper()
	path := filepath.Join(tr.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tr.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		tr.t.Fatalf("write: %v", err)
	}
	return path
}

func (tr *tree) options() plan.Options {
	return plan.Options{
		InputDir:   tr.root,
		OutputDir:  "/bids",
		ConfigPath: "/cfg/dcm2bids.json",
	}
}

func TestBuildGroupsByParticipant(t *testing.T) {
	tr := newTree(t)
	dirA1 := tr.dicom("a/series1/IM1", dcmheader.Header{PatientID: "PA", AcquisitionDate: "20200101"})
	dirB := tr.dicom("b/series1/IM1.dcm", dcmheader.Header{PatientID: "PB", ContentDate: "2021-02-02"})
	dirA2 := tr.dicom("c/series2/IM1", dcmheader.Header{PatientID: "PA"})
	tr.file("c/notes.txt")
	tr.file("d/readme")

	reg := registry.New()
	result, err := plan.New(tr.reader, logging.NewNop()).Build(context.Background(), reg, tr.options())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(result.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(result.Jobs))
	}
	if !slices.Equal(result.Created, []string{"sub-00001", "sub-00002"}) {
		t.Fatalf("created = %v", result.Created)
	}
	if len(result.Groups) != 2 || result.Groups[0].ParticipantID != "sub-00001" {
		t.Fatalf("unexpected groups: %+v", result.Groups)
	}
	groupA := result.Groups[0].Jobs
	if len(groupA) != 2 || groupA[0].Directory != dirA1 || groupA[1].Directory != dirA2 {
		t.Fatalf("unexpected group A jobs: %+v", groupA)
	}
	if groupA[0].Session != "20200101" || groupA[1].Session != "1" {
		t.Fatalf("unexpected sessions: %q %q", groupA[0].Session, groupA[1].Session)
	}
	jobB := result.Groups[1].Jobs[0]
	if jobB.Directory != dirB || jobB.Label != "00002" || jobB.Session != "20210202" {
		t.Fatalf("unexpected job B: %+v", jobB)
	}
	if jobB.ConfigPath != "/cfg/dcm2bids.json" || jobB.OutputDir != "/bids" {
		t.Fatalf("job did not carry paths: %+v", jobB)
	}

	if folder, _ := reg.Get("sub-00001", registry.ColumnFolderPath); folder != dirA1 {
		t.Fatalf("folder_path = %q, want %q", folder, dirA1)
	}
	if pid, ok := reg.Resolve("PB"); !ok || pid != "sub-00002" {
		t.Fatalf("expected PB registered, got %q %v", pid, ok)
	}

	var noDICOM int
	for _, s := range result.Skipped {
		if s.Reason == plan.SkipNoDICOM {
			noDICOM++
		}
	}
	if noDICOM != 2 {
		t.Fatalf("expected no-dicom skips for c and d, got %+v", result.Skipped)
	}
}

func TestBuildReusesExistingParticipantsAndPathology(t *testing.T) {
	tr := newTree(t)
	tr.dicom("x/IM1", dcmheader.Header{PatientID: "LAB-7"})
	tr.dicom("y/IM1", dcmheader.Header{PatientID: "NEW"})
	tr.dicom("z/IM1", dcmheader.Header{PatientID: "  "})

	reg := registry.New()
	if err := reg.Add("sub-GBM00004", "", "/old"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Set("sub-GBM00004", "lab_id", "LAB-7,LAB-8"); err != nil {
		t.Fatal(err)
	}

	opts := tr.options()
	opts.Pathology = "GBM"
	result, err := plan.New(tr.reader, nil).Build(context.Background(), reg, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %+v", result.Jobs)
	}
	if result.Jobs[0].ParticipantID != "sub-GBM00004" || result.Jobs[1].ParticipantID != "sub-GBM00005" {
		t.Fatalf("unexpected participants: %+v", result.Jobs)
	}
	if got := reg.HeaderIDs("sub-GBM00004"); !slices.Equal(got, []string{"LAB-7"}) {
		t.Fatalf("expected header id recorded on existing row, got %v", got)
	}
	if result.Skipped[len(result.Skipped)-1].Reason != plan.SkipEmptyPatientID {
		t.Fatalf("expected empty id skip, got %+v", result.Skipped)
	}
}

func TestBuildSingleSubjectKnown(t *testing.T) {
	tr := newTree(t)
	tr.dicom("one/IM1", dcmheader.Header{PatientID: "P1"})
	tr.dicom("two/IM1", dcmheader.Header{PatientID: "P2"})

	reg := registry.New()
	for _, row := range [][2]string{{"sub-00001", "P1"}, {"sub-00002", "P2"}} {
		if err := reg.Add(row[0], row[1], ""); err != nil {
			t.Fatal(err)
		}
	}

	opts := tr.options()
	opts.SubjectID = "sub-00002"
	result, err := plan.New(tr.reader, nil).Build(context.Background(), reg, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].ParticipantID != "sub-00002" {
		t.Fatalf("unexpected jobs: %+v", result.Jobs)
	}
	if len(result.Created) != 0 || reg.Len() != 2 {
		t.Fatalf("single subject mode must not allocate: created=%v len=%d", result.Created, reg.Len())
	}
}

func TestBuildSingleSubjectUnknownClaimsEverything(t *testing.T) {
	tr := newTree(t)
	tr.dicom("one/IM1", dcmheader.Header{PatientID: "P1"})
	tr.dicom("two/IM1", dcmheader.Header{PatientID: "P2"})

	reg := registry.New()
	opts := tr.options()
	opts.SubjectID = "sub-X00001"
	result, err := plan.New(tr.reader, nil).Build(context.Background(), reg, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Jobs) != 2 || len(result.Groups) != 1 {
		t.Fatalf("expected both directories under one subject, got %+v", result.Groups)
	}
	if result.Jobs[0].Label != "X00001" {
		t.Fatalf("unexpected label %q", result.Jobs[0].Label)
	}
	if got := reg.HeaderIDs("sub-X00001"); !slices.Equal(got, []string{"P1", "P2"}) {
		t.Fatalf("HeaderIDs = %v", got)
	}
}

func TestBuildRejectsMissingInput(t *testing.T) {
	_, err := plan.New(fakeReader{}, nil).Build(context.Background(), registry.New(), plan.Options{
		InputDir: filepath.Join(t.TempDir(), "missing"),
	})
	if err == nil {
		t.Fatal("expected error for missing input directory")
	}
}

func TestBuildHonoursCancellation(t *testing.T) {
	tr := newTree(t)
	tr.dicom("a/IM1", dcmheader.Header{PatientID: "P"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := plan.New(tr.reader, nil).Build(ctx, registry.New(), tr.options()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
