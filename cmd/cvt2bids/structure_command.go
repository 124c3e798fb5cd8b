package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cvt2bids/internal/structure"
)

func newStructureCommand(ctx *commandContext) *cobra.Command {
	var srcDir string
	var dstDir string
	var dryRun bool
	var workers int

	cmd := &cobra.Command{
		Use:   "structure",
		Short: "Copy a DICOM archive into a patient/study/series layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			src, err := absPath(srcDir)
			if err != nil {
				return err
			}
			dst, err := absPath(dstDir)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = cfg.Structure.Workers
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "reading file list...")
			result, err := structure.New(nil, logger).Run(cmd.Context(), structure.Options{
				Source:      src,
				Destination: dst,
				DryRun:      dryRun,
				Workers:     workers,
			})
			if err != nil {
				return err
			}

			printer := newStatusPrinter(out)
			if dryRun {
				for _, entry := range result.Entries {
					if entry.Err == nil && entry.Destination != "" {
						fmt.Fprintf(out, "%s -> %s\n", entry.Source, entry.Destination)
					}
				}
			}
			stats := result.Stats
			printer.line("Files found", statusInfo, strconv.Itoa(stats.Candidates))
			if dryRun {
				printer.line("Planned", statusInfo, strconv.Itoa(stats.Planned))
			} else {
				printer.line("Copied", statusOK, strconv.Itoa(stats.Copied))
			}
			if stats.Unreadable > 0 {
				printer.line("Not DICOM", statusWarn, strconv.Itoa(stats.Unreadable))
			}
			if stats.Failed > 0 {
				printer.line("Failed", statusError, strconv.Itoa(stats.Failed))
				return fmt.Errorf("%d files could not be copied", stats.Failed)
			}
			fmt.Fprintln(out, "done.")
			return nil
		},
	}

	cmd.Flags().StringVar(&srcDir, "src", "", "Source DICOM archive")
	cmd.Flags().StringVar(&dstDir, "dst", "", "Destination root")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print destinations without copying")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent copies (0 uses the CPU count)")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")

	return cmd
}
