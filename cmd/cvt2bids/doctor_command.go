package main

import (
	"errors"

	"github.com/spf13/cobra"

	"cvt2bids/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var inputDir string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that dcm2bids, dcm2niix and the working directories are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input, err := absPath(inputDir)
			if err != nil {
				return err
			}
			output, err := absPath(outputDir)
			if err != nil {
				return err
			}

			printer := newStatusPrinter(cmd.OutOrStdout())
			if ctx.configPath != "" {
				printer.line("Config", statusInfo, ctx.configPath)
			}
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Targets{InputDir: input, OutputDir: output})
			for _, result := range results {
				printer.check(result.Name, result.Passed, result.Detail)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return errors.New("some checks failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputDir, "dicom", "d", "", "Also check this DICOM directory is readable")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Also check this BIDS directory is writable")
	return cmd
}
