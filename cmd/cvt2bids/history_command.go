package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cobra"

	"cvt2bids/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var since string
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show previous conversion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if id := strings.TrimSpace(runID); id != "" {
				return printRunJobs(cmd, store, id)
			}

			var sinceTime time.Time
			if value := strings.TrimSpace(since); value != "" {
				sinceTime, err = dateparse.ParseLocal(value)
				if err != nil {
					return fmt.Errorf("parse --since %q: %w", value, err)
				}
			}
			runs, err := store.ListRuns(cmd.Context(), limit, sinceTime)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No conversion runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					formatTimestamp(run.StartedAt),
					run.Status,
					strconv.Itoa(run.JobsConverted),
					strconv.Itoa(run.JobsFailed),
					strconv.Itoa(run.JobsSkipped),
					strconv.Itoa(run.ParticipantsCreated),
					yesNo(run.DryRun),
					run.OutputDir,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Status", "Converted", "Failed", "Skipped", "New", "Dry run", "Output"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 shows all)")
	cmd.Flags().StringVar(&since, "since", "", "Only show runs started after this date or time")
	cmd.Flags().StringVar(&runID, "run", "", "Show the jobs of one run")
	return cmd
}

func printRunJobs(cmd *cobra.Command, store *ledger.Store, runID string) error {
	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	jobs, err := store.ListJobs(cmd.Context(), runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s) %s -> %s\n", run.ID, run.Status, run.InputDir, run.OutputDir)
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return nil
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ParticipantID,
			job.Session,
			job.Outcome,
			formatDuration(job.Duration),
			job.Directory,
			job.ErrorMessage,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Participant", "Session", "Outcome", "Duration", "Directory", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}
