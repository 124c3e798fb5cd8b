package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateConverter(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateConverter() error {
	if strings.TrimSpace(c.Converter.Binary) == "" {
		return errors.New("converter.binary must be set")
	}
	if c.Converter.TimeoutSeconds < 0 {
		return errors.New("converter.timeout_seconds must not be negative")
	}
	for _, arg := range c.Converter.ExtraArgs {
		switch arg {
		case "-d", "-p", "-c", "-o", "-s":
			return fmt.Errorf("converter.extra_args must not override %s; it is set per job", arg)
		}
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if strings.ContainsAny(c.Registry.FileName, `/\`) {
		return errors.New("registry.file_name must be a bare file name")
	}
	if c.Registry.IDDigits > 12 {
		return errors.New("registry.id_digits must be at most 12")
	}
	for _, column := range c.Registry.IDColumns {
		if column == "participant_id" {
			return errors.New("registry.id_columns must not include participant_id")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
