package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeConverter()
	c.normalizeRegistry()
	c.normalizeWorkflow()
	c.Sidecar.Fields = dedupeTrimmed(c.Sidecar.Fields, DefaultSidecarFields)
	if c.Structure.Workers <= 0 {
		c.Structure.Workers = runtime.NumCPU()
	}
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeConverter() {
	c.Converter.Binary = strings.TrimSpace(c.Converter.Binary)
	if c.Converter.Binary == "" {
		if value, ok := os.LookupEnv("CVT2BIDS_CONVERTER"); ok && strings.TrimSpace(value) != "" {
			c.Converter.Binary = strings.TrimSpace(value)
		} else {
			c.Converter.Binary = defaultConverterBinary
		}
	}
	c.Converter.Dcm2niixBinary = strings.TrimSpace(c.Converter.Dcm2niixBinary)
	if c.Converter.Dcm2niixBinary == "" {
		c.Converter.Dcm2niixBinary = defaultDcm2niixBinary
	}
	args := make([]string, 0, len(c.Converter.ExtraArgs))
	for _, arg := range c.Converter.ExtraArgs {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	c.Converter.ExtraArgs = args
	if c.Converter.TimeoutSeconds < 0 {
		c.Converter.TimeoutSeconds = 0
	}
}

func (c *Config) normalizeRegistry() {
	c.Registry.FileName = strings.TrimSpace(c.Registry.FileName)
	if c.Registry.FileName == "" {
		c.Registry.FileName = defaultRegistryFileName
	}
	c.Registry.IDColumns = dedupeTrimmed(c.Registry.IDColumns, DefaultIDColumns)
	if c.Registry.IDDigits <= 0 {
		c.Registry.IDDigits = defaultIDDigits
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = runtime.NumCPU()
	}
	c.Workflow.FallbackSession = strings.TrimSpace(c.Workflow.FallbackSession)
	if c.Workflow.FallbackSession == "" {
		c.Workflow.FallbackSession = defaultFallbackSession
	}
}

func (c *Config) normalizeMetrics() error {
	c.Metrics.Textfile = strings.TrimSpace(c.Metrics.Textfile)
	if c.Metrics.Textfile == "" {
		return nil
	}
	var err error
	if c.Metrics.Textfile, err = expandPath(c.Metrics.Textfile); err != nil {
		return fmt.Errorf("metrics.textfile: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func dedupeTrimmed(values, fallback []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
