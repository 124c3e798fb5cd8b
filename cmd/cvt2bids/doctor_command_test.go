package main

import (
	"path/filepath"
	"testing"

	"cvt2bids/internal/testsupport"
)

func TestDoctorPassesWithStubbedTools(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())

	out, _, err := runCLI(t, []string{"doctor", "-d", t.TempDir(), "-o", filepath.Join(env.baseDir, "bids")}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "dcm2bids:")
	requireContains(t, out, "Input directory:")
	requireContains(t, out, "will be created")
}

func TestDoctorFailsForMissingInput(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())

	out, _, err := runCLI(t, []string{"doctor", "-d", filepath.Join(env.baseDir, "absent")}, env.configPath)
	if err == nil {
		t.Fatal("expected doctor to fail")
	}
	requireContains(t, out, "does not exist")
}
