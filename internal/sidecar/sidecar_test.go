package sidecar_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cvt2bids/internal/logging"
	"cvt2bids/internal/registry"
	"cvt2bids/internal/sidecar"
)

func writeSidecar(t *testing.T, out, rel, content string) {
	t.Helper()
	path := filepath.Join(out, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
}

func TestApplyAggregatesUniqueValues(t *testing.T) {
	out := t.TempDir()
	writeSidecar(t, out, "sub-00001/ses-20200101/anat/sub-00001_ses-20200101_T1w.json",
		`{"PatientName":"DOE^JANE","PatientSex":"F","AcquisitionDateTime":"2020-01-01T10:11:12.000000","EchoTime":0.003}`)
	writeSidecar(t, out, "sub-00001/ses-20200101/func/sub-00001_ses-20200101_bold.json",
		`{"PatientName":"DOE^JANE","PatientSex":"F","AcquisitionDateTime":"2020-01-01T10:40:00"}`)
	writeSidecar(t, out, "sub-00001/ses-20210505/anat/sub-00001_ses-20210505_T1w.json",
		`{"PatientName":"DOE^J","AcquisitionDateTime":"2021-05-05T08:00:00","DeviceSerialNumber":12345}`)
	writeSidecar(t, out, "sub-00001/ses-20210505/anat/broken.json", `{"PatientName":`)
	// Too shallow for the sidecar pattern.
	writeSidecar(t, out, "sub-00001/ses-20200101/stray.json", `{"PatientName":"IGNORED"}`)

	reg := registry.New()
	for _, pid := range []string{"sub-00001", "sub-00002"} {
		if err := reg.Add(pid, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	agg := sidecar.New(nil, logging.NewNop())
	stats, err := agg.Apply(context.Background(), reg, out)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.Participants != 2 || stats.Sidecars != 3 || stats.Unreadable != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	expect := map[string]string{
		"PatientName":         "DOE^JANE;DOE^J",
		"PatientSex":          "F",
		"AcquisitionDateTime": "2020-01-01;2021-05-05",
		"DeviceSerialNumber":  "12345",
		"PatientAge":          "",
	}
	for field, want := range expect {
		if got, ok := reg.Get("sub-00001", field); !ok || got != want {
			t.Errorf("%s = %q (present=%v), want %q", field, got, ok, want)
		}
	}
	for _, field := range sidecar.DefaultFields {
		if got, ok := reg.Get("sub-00002", field); !ok || got != "" {
			t.Errorf("participant without sidecars: %s = %q (present=%v)", field, got, ok)
		}
	}
}

func TestCustomFields(t *testing.T) {
	out := t.TempDir()
	writeSidecar(t, out, "sub-00003/ses-1/dwi/a.json", `{"Manufacturer":"Siemens","PatientName":"X"}`)

	agg := sidecar.New([]string{"Manufacturer"}, nil)
	values, read, unreadable, err := agg.Collect(out, "sub-00003")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if read != 1 || unreadable != 0 {
		t.Fatalf("read=%d unreadable=%d", read, unreadable)
	}
	if len(values) != 1 || values["Manufacturer"] != "Siemens" {
		t.Fatalf("unexpected values %v", values)
	}
}

func TestDatePart(t *testing.T) {
	tests := map[string]string{
		"2020-01-01T10:11:12.000000": "2020-01-01",
		"2020-01-01 10:11:12":        "2020-01-01 10:11:12",
		"12:30:00":                   "12:30:00",
		"20200101":                   "20200101",
		" 2021-05-06T07:08:09 ":      "2021-05-06",
		"unknown":                    "unknown",
		"":                           "",
	}
	for in, want := range tests {
		if got := sidecar.DatePart(in); got != want {
			t.Errorf("DatePart(%q) = %q, want %q", in, got, want)
		}
	}
}
