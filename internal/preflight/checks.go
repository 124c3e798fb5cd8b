package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"cvt2bids/internal/config"
	"cvt2bids/internal/deps"
	"cvt2bids/internal/services/dcm2bids"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadableDirectory verifies that the directory exists and can be walked.
func CheckReadableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckCreatableDirectory passes when path is a writable directory or when
// its nearest existing ancestor is writable, so it can be created later.
func CheckCreatableDirectory(name, path string) Result {
	if _, err := os.Stat(path); err == nil {
		return CheckDirectoryAccess(name, path)
	}
	ancestor := filepath.Dir(filepath.Clean(path))
	for {
		if _, err := os.Stat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing parent)", path)}
		}
		ancestor = parent
	}
	parent := CheckDirectoryAccess(name, ancestor)
	if !parent.Passed {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s)", path, ancestor)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

// CheckSystemDeps evaluates the external tools a conversion run needs.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "dcm2bids",
			Command:     cfg.ConverterBinary(),
			Description: "Required for DICOM to BIDS conversion",
		},
		{
			Name:        "dcm2niix",
			Command:     cfg.Dcm2niixBinary(),
			Description: "Invoked by dcm2bids to write NIfTI images",
		},
		{
			Name:        "pigz",
			Command:     "pigz",
			Description: "Speeds up dcm2niix gzip compression",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(requirements)
}

// CheckConverterVersion runs the converter's version probe with a short timeout.
func CheckConverterVersion(ctx context.Context, cfg *config.Config) Result {
	const name = "dcm2bids version"

	client, err := dcm2bids.New(cfg.ConverterBinary(), cfg.Converter.TimeoutSeconds)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	version, err := client.Version(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if version == "" {
		version = "unknown"
	}
	return Result{Name: name, Passed: true, Detail: version}
}

func statusResult(status deps.Status) Result {
	result := Result{Name: status.Name, Passed: status.Satisfied()}
	switch {
	case status.Available:
		result.Detail = status.Path
	case status.Optional:
		result.Detail = fmt.Sprintf("%s (optional)", status.Detail)
	default:
		result.Detail = status.Detail
	}
	return result
}
