package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/suyashkumar/dicom/pkg/tag"

	"cvt2bids/internal/config"
	"cvt2bids/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
	dicomDir   string
	outputDir  string
	dcmConfig  string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t, opts...)
	cfg.Logging.Level = "error"
	configPath := filepath.Join(homeDir, ".config", "cvt2bids", "config.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		baseDir:    base,
		dicomDir:   filepath.Join(base, "dicom"),
		outputDir:  filepath.Join(base, "bids"),
		dcmConfig:  filepath.Join(base, "dcm2bids_config.json"),
	}
	testsupport.WriteText(t, env.dcmConfig, "{\"descriptions\": []}\n")
	return env
}

// seedDICOM writes one DICOM file per patient id under the env's input tree.
func (e *cliTestEnv) seedDICOM(t *testing.T, patients map[string]string) {
	t.Helper()
	for dir, patientID := range patients {
		testsupport.WriteDICOM(t, filepath.Join(e.dicomDir, dir, "IM0001.dcm"), testsupport.DICOMFields{
			tag.PatientID:       patientID,
			tag.AcquisitionDate: "20220110",
		})
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	testsupport.WriteText(t, path, string(data))
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
