package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"cvt2bids/internal/registry"
	"cvt2bids/internal/services"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadPreservesColumnsAndAddsHeaderID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participants.tsv")
	writeFile(t, path, "participant_id\tage\tlab_id\tfolder_path\n"+
		"sub-00001\t42\tL1,L2\t/data/a\n"+
		"sub-00002\tn/a\t['L3', 'L4']\t/data/b\n")

	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"participant_id", "age", "lab_id", "folder_path", "dcm_header_id"}
	if got := reg.Columns(); !slices.Equal(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	if age, _ := reg.Get("sub-00001", "age"); age != "42" {
		t.Fatalf("expected unknown column preserved, got %q", age)
	}
	if pid, ok := reg.Resolve("L4"); !ok || pid != "sub-00002" {
		t.Fatalf("expected list literal to be searchable, got %q %v", pid, ok)
	}
}

func TestLoadToleratesCommaDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participants.csv")
	writeFile(t, path, "participant_id,dcm_header_id,folder_path\n"+
		"sub-00007,P7,p7\n"+
		"sub-00008,P8,p8\n")

	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", reg.Len())
	}
	if pid, ok := reg.Resolve("P8"); !ok || pid != "sub-00008" {
		t.Fatalf("Resolve(P8) = %q %v", pid, ok)
	}
}

func TestLoadHeaderOnlyRegistry(t *testing.T) {
	for name, content := range map[string]string{
		"single column": "participant_id\n",
		"tab header":    "participant_id\tdcm_header_id\tfolder_path\n",
		"comma header":  "participant_id,dcm_header_id,folder_path\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "participants.tsv")
			writeFile(t, path, content)

			reg, err := registry.Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if reg.Len() != 0 {
				t.Fatalf("expected empty registry, got %d rows", reg.Len())
			}
			if _, ok := reg.Resolve("P1"); ok {
				t.Fatal("expected no match in empty registry")
			}
		})
	}
}

func TestLoadSingleColumnWithRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participants.tsv")
	writeFile(t, path, "participant_id\nsub-00003\n")

	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reg.Has("sub-00003") || reg.MaxNumericID() != 3 {
		t.Fatalf("unexpected registry: len=%d max=%d", reg.Len(), reg.MaxNumericID())
	}
}

func TestLoadRejectsMissingParticipantColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participants.tsv")
	writeFile(t, path, "subject\tage\nA\t1\n")
	if _, err := registry.Load(path); err == nil {
		t.Fatal("expected error for missing participant_id column")
	}
}

func TestResolveOrder(t *testing.T) {
	reg := registry.New()
	mustAdd(t, reg, "sub-00001", "RAW1", "/a")
	mustAdd(t, reg, "sub-00002", "sub-00001", "/b")

	tests := []struct {
		raw   string
		want  string
		found bool
	}{
		{"RAW1", "sub-00001", true},
		{"  RAW1 ", "sub-00001", true},
		// Identifier columns win over an exact participant_id match.
		{"sub-00001", "sub-00002", true},
		{"sub-00002", "sub-00002", true},
		{"unknown", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := reg.Resolve(tt.raw)
		if got != tt.want || ok != tt.found {
			t.Errorf("Resolve(%q) = %q %v, want %q %v", tt.raw, got, ok, tt.want, tt.found)
		}
	}
}

func TestAllocateIsMonotonic(t *testing.T) {
	reg := registry.New()
	if got := reg.MaxNumericID(); got != 0 {
		t.Fatalf("empty registry max = %d", got)
	}
	mustAdd(t, reg, "sub-00004", "A", "/a")
	mustAdd(t, reg, "sub-GBM00009", "B", "/b")
	mustAdd(t, reg, "sub-control", "C", "/c")

	if got := reg.MaxNumericID(); got != 9 {
		t.Fatalf("MaxNumericID = %d, want 9", got)
	}

	first, err := reg.Allocate("GBM")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := reg.Allocate("")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first != "sub-GBM00010" || second != "sub-00011" {
		t.Fatalf("unexpected allocations %q %q", first, second)
	}

	if _, err := reg.Allocate("a-b"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad pathology, got %v", err)
	}
}

func TestAllocateHonoursDigits(t *testing.T) {
	reg := registry.New(registry.WithDigits(3))
	id, err := reg.Allocate("")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != "sub-001" {
		t.Fatalf("Allocate = %q", id)
	}
}

func TestAllocateReadsWideSuffixWithNarrowDigits(t *testing.T) {
	reg := registry.New(registry.WithDigits(3))
	mustAdd(t, reg, "sub-01234", "RAW1", "/a")
	mustAdd(t, reg, "sub-GBM007", "RAW2", "/b")

	if got := reg.MaxNumericID(); got != 1234 {
		t.Fatalf("MaxNumericID = %d, want 1234", got)
	}
	id, err := reg.Allocate("")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != "sub-1235" {
		t.Fatalf("Allocate = %q, want sub-1235", id)
	}
}

func TestAddHeaderIDAndSet(t *testing.T) {
	reg := registry.New()
	mustAdd(t, reg, "sub-00001", "RAW1", "/a")

	added, err := reg.AddHeaderID("sub-00001", "RAW2")
	if err != nil || !added {
		t.Fatalf("AddHeaderID = %v %v", added, err)
	}
	added, err = reg.AddHeaderID("sub-00001", "RAW2")
	if err != nil || added {
		t.Fatalf("expected duplicate header id to be ignored, got %v %v", added, err)
	}
	if got := reg.HeaderIDs("sub-00001"); !slices.Equal(got, []string{"RAW1", "RAW2"}) {
		t.Fatalf("HeaderIDs = %v", got)
	}

	if err := reg.Set("sub-00001", "PatientSex", "F"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := reg.Get("sub-00001", "PatientSex"); !ok || v != "F" {
		t.Fatalf("Get = %q %v", v, ok)
	}
	if err := reg.Set("sub-404", "PatientSex", "M"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := reg.Add("sub-00001", "X", "/x"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate add to fail, got %v", err)
	}
}

func TestAddIntroducesIdentifierColumns(t *testing.T) {
	reg := registry.New(registry.WithIDColumns([]string{"lab_id", "dcm_header_id"}))
	if got := reg.Columns(); slices.Contains(got, "lab_id") {
		t.Fatalf("expected no lab_id before the first add, got %v", got)
	}
	mustAdd(t, reg, "sub-00001", "RAW1", "/a")

	want := []string{"participant_id", "dcm_header_id", "folder_path", "lab_id"}
	if got := reg.Columns(); !slices.Equal(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	if got, _ := reg.Get("sub-00001", "lab_id"); got != "" {
		t.Fatalf("expected empty lab_id, got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "participants.tsv")

	reg := registry.New()
	mustAdd(t, reg, "sub-00001", "RAW1", "/data/one")
	if _, err := reg.AddHeaderID("sub-00001", "RAW1b"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Set("sub-00001", "PatientAge", "042Y"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "participant_id\tdcm_header_id\tfolder_path\tosepa_id\tlab_id\tneurorad_id\tPatientAge\n" +
		"sub-00001\tRAW1,RAW1b\t/data/one\t\t\t\t042Y\n"
	if string(data) != want {
		t.Fatalf("saved content:\n%s\nwant:\n%s", data, want)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".participants") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}

	reloaded, err := registry.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if pid, ok := reloaded.Resolve("RAW1b"); !ok || pid != "sub-00001" {
		t.Fatalf("reloaded Resolve = %q %v", pid, ok)
	}
}

func TestParseIDList(t *testing.T) {
	tests := []struct {
		cell string
		want []string
	}{
		{"", nil},
		{"n/a", nil},
		{"A", []string{"A"}},
		{" A , B ,,A", []string{"A", "B"}},
		{"['A', 'B']", []string{"A", "B"}},
		{`["A"]`, []string{"A"}},
		{"[]", nil},
	}
	for _, tt := range tests {
		if got := registry.ParseIDList(tt.cell); !slices.Equal(got, tt.want) {
			t.Errorf("ParseIDList(%q) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := registry.Label("sub-GBM00003"); got != "GBM00003" {
		t.Fatalf("Label = %q", got)
	}
	if got := registry.Label("plain"); got != "plain" {
		t.Fatalf("Label = %q", got)
	}
}

func mustAdd(t *testing.T, reg *registry.Registry, pid, headerID, folder string) {
	t.Helper()
	if err := reg.Add(pid, headerID, folder); err != nil {
		t.Fatalf("Add(%s): %v", pid, err)
	}
}
