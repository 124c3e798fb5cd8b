package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cvt2bids/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Workflow.Workers = 2
	cfgVal.Structure.Workers = 2
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithParallel enables participant-level parallelism with the given pool size.
func WithParallel(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Parallel = true
		b.cfg.Workflow.Workers = workers
	}
}

// WithMetricsTextfile points the Prometheus textfile output into the temp tree.
func WithMetricsTextfile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Textfile = filepath.Join(b.baseDir, name)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, dcm2bids and dcm2niix are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"dcm2bids", "dcm2niix"}
		}
		for _, name := range names {
			b.writeBinary(name, "#!/bin/sh\nexit 0\n")
		}
	}
}

// WithConverterScript installs a fake dcm2bids that writes one JSON sidecar
// per invocation into <out>/sub-<label>/ses-<session>/anat, echoing the
// sidecar body it was given. A stub dcm2niix is installed alongside.
func WithConverterScript(sidecarJSON string) ConfigOption {
	return func(b *configBuilder) {
		script := `#!/bin/sh
label=""; out=""; session=""
while [ $# -gt 0 ]; do
  case "$1" in
    -p) label="$2"; shift 2 ;;
    -o) out="$2"; shift 2 ;;
    -s) session="$2"; shift 2 ;;
    *) shift ;;
  esac
done
dir="$out/sub-$label/ses-$session/anat"
mkdir -p "$dir"
cat > "$dir/sub-${label}_ses-${session}_T1w.json" <<'JSON'
` + sidecarJSON + `
JSON
echo "converted sub-$label ses-$session"
`
		b.writeBinary("dcm2bids", script)
		b.writeBinary("dcm2niix", "#!/bin/sh\nexit 0\n")
	}
}

func (b *configBuilder) writeBinary(name, script string) {
	b.t.Helper()
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		b.t.Fatalf("write stub %s: %v", name, err)
	}
	path := os.Getenv("PATH")
	if len(path) < len(binDir) || path[:len(binDir)] != binDir {
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+path)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
