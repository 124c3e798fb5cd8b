package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cvt2bids/internal/conversion"
	"cvt2bids/internal/dispatch"
	"cvt2bids/internal/preflight"
)

type convertFlags struct {
	dicomDir      string
	outputDir     string
	configPath    string
	subjectID     string
	participants  string
	pathology     string
	multiproc     bool
	workers       int
	skipConverted bool
	dryRun        bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a DICOM tree into BIDS with dcm2bids",
		Long: "Walk the DICOM directory, match every patient to a participant in participants.tsv " +
			"(allocating new pseudonymous ids as needed), run dcm2bids per directory and fold the " +
			"JSON sidecar metadata back into participants.tsv in the output directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			req, err := flags.request()
			if err != nil {
				return err
			}
			req.Parallel = cfg.Workflow.Parallel
			if cmd.Flags().Changed("multiproc") {
				req.Parallel = flags.multiproc
			}
			req.Workers = cfg.Workflow.Workers
			if cmd.Flags().Changed("workers") {
				req.Workers = flags.workers
			}
			req.SkipConverted = cfg.Workflow.SkipConverted
			if cmd.Flags().Changed("skip-converted") {
				req.SkipConverted = flags.skipConverted
			}

			out := cmd.OutOrStdout()
			printBanner(out)

			if !req.DryRun {
				results := preflight.RunAll(cmd.Context(), cfg, preflight.Targets{InputDir: req.InputDir, OutputDir: req.OutputDir})
				if failed := preflight.Failed(results); len(failed) > 0 {
					printer := newStatusPrinter(out)
					for _, result := range failed {
						printer.check(result.Name, false, result.Detail)
					}
					return errors.New("preflight checks failed; run `cvt2bids doctor` for details")
				}
			}

			runner, err := conversion.NewRunner(cfg, logger)
			if err != nil {
				return err
			}
			report, err := runner.Run(cmd.Context(), req)
			if report != nil {
				printConvertReport(out, report, req.DryRun)
			}
			if err != nil {
				return err
			}
			if failed := report.Summary.Failed + report.Summary.Timeout; failed > 0 {
				return fmt.Errorf("%d of %d conversions failed; see `cvt2bids history` for details", failed, report.Summary.Total())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.dicomDir, "dicom", "d", "", "Directory containing the DICOM tree")
	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "BIDS output directory")
	cmd.Flags().StringVarP(&flags.configPath, "dcm2bids-config", "c", "", "dcm2bids configuration file")
	cmd.Flags().StringVarP(&flags.subjectID, "id", "i", "", "Convert only this participant id")
	cmd.Flags().StringVarP(&flags.participants, "participants", "p", "", "participants.tsv to start from")
	cmd.Flags().StringVar(&flags.pathology, "pathology", "", "Prefix for newly allocated participant ids")
	cmd.Flags().BoolVarP(&flags.multiproc, "multiproc", "m", false, "Convert participants in parallel")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Parallel worker count (0 uses the CPU count)")
	cmd.Flags().BoolVar(&flags.skipConverted, "skip-converted", false, "Skip directories a previous run already converted")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the dcm2bids commands without running them")
	_ = cmd.MarkFlagRequired("dicom")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("dcm2bids-config")

	return cmd
}

func (f convertFlags) request() (conversion.Request, error) {
	req := conversion.Request{
		SubjectID: strings.TrimSpace(f.subjectID),
		Pathology: strings.TrimSpace(f.pathology),
		DryRun:    f.dryRun,
	}
	var err error
	if req.InputDir, err = absPath(f.dicomDir); err != nil {
		return req, err
	}
	if req.OutputDir, err = absPath(f.outputDir); err != nil {
		return req, err
	}
	if req.ConfigPath, err = absPath(f.configPath); err != nil {
		return req, err
	}
	if strings.TrimSpace(f.participants) != "" {
		if req.RegistryPath, err = absPath(f.participants); err != nil {
			return req, err
		}
	}
	return req, nil
}

func absPath(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", value, err)
	}
	return abs, nil
}

func printConvertReport(out io.Writer, report *conversion.Report, dryRun bool) {
	printer := newStatusPrinter(out)
	if report.Plan != nil {
		printer.line("Jobs", statusInfo, strconv.Itoa(len(report.Plan.Jobs)))
		printer.line("New participants", statusInfo, strconv.Itoa(len(report.Plan.Created)))
		if len(report.Plan.Skipped) > 0 {
			printer.line("Skipped directories", statusWarn, strconv.Itoa(len(report.Plan.Skipped)))
		}
	}

	if dryRun {
		for _, line := range report.CommandLines {
			fmt.Fprintln(out, line)
		}
		return
	}

	if len(report.Results) > 0 {
		rows := make([][]string, 0, len(report.Results))
		var total time.Duration
		for _, res := range report.Results {
			total += res.Duration
			rows = append(rows, []string{
				res.Job.ParticipantID,
				res.Job.Session,
				res.Outcome,
				formatDuration(res.Duration),
				res.Job.Directory,
			})
		}
		fmt.Fprintln(out, tableSpec{
			Headers: []string{"Participant", "Session", "Outcome", "Duration", "Directory"},
			Rows:    rows,
			Footer:  []string{fmt.Sprintf("%d jobs", len(rows)), "", "", formatDuration(total), ""},
			Aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		}.render())
	}

	printer.line("Converted", summaryKind(report.Summary), strconv.Itoa(report.Summary.Converted))
	if failed := report.Summary.Failed + report.Summary.Timeout; failed > 0 {
		printer.line("Failed", statusError, strconv.Itoa(failed))
	}
	if report.Summary.Skipped > 0 {
		printer.line("Already converted", statusInfo, strconv.Itoa(report.Summary.Skipped))
	}
	printer.line("Registry", statusInfo, report.RegistryPath)
	printer.line("Run id", statusInfo, report.RunID)
}

func summaryKind(s dispatch.Summary) statusKind {
	switch {
	case s.Failed+s.Timeout > 0:
		return statusError
	case s.Canceled > 0:
		return statusWarn
	default:
		return statusOK
	}
}
