package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cvt2bids/internal/config"
	"cvt2bids/internal/registry"
	"cvt2bids/internal/services"
)

type registrySource struct {
	file      string
	outputDir string
}

func (s *registrySource) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.file, "participants", "p", "", "participants.tsv to read")
	cmd.Flags().StringVarP(&s.outputDir, "output", "o", "", "BIDS directory holding participants.tsv")
}

func (s *registrySource) load(cfg *config.Config) (*registry.Registry, string, error) {
	path := strings.TrimSpace(s.file)
	if path == "" {
		if strings.TrimSpace(s.outputDir) == "" {
			return nil, "", errors.New("pass --participants or --output")
		}
		path = filepath.Join(s.outputDir, cfg.Registry.FileName)
	}
	abs, err := absPath(path)
	if err != nil {
		return nil, "", err
	}
	reg, err := registry.Load(abs,
		registry.WithIDColumns(cfg.Registry.IDColumns),
		registry.WithDigits(cfg.Registry.IDDigits))
	if err != nil {
		return nil, abs, err
	}
	return reg, abs, nil
}

func newParticipantsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "Inspect a participants registry",
	}
	cmd.AddCommand(newParticipantsListCommand(ctx))
	cmd.AddCommand(newParticipantsResolveCommand(ctx))
	return cmd
}

func newParticipantsListCommand(ctx *commandContext) *cobra.Command {
	var source registrySource
	var columns []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the participants table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, path, err := source.load(cfg)
			if err != nil {
				return err
			}

			headers := columns
			if len(headers) == 0 {
				headers = []string{registry.ColumnParticipantID, registry.ColumnHeaderID, registry.ColumnFolderPath}
			}
			rows := make([][]string, 0, reg.Len())
			for _, pid := range reg.Participants() {
				row := make([]string, len(headers))
				for i, column := range headers {
					row[i], _ = reg.Get(pid, column)
				}
				rows = append(rows, row)
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "No participants in %s\n", path)
				return nil
			}
			fmt.Fprintln(out, renderTable(headers, rows, nil))
			fmt.Fprintf(out, "%d participants, next id number %d\n", reg.Len(), reg.MaxNumericID()+1)
			return nil
		},
	}
	source.bind(cmd)
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to show (default participant_id,dcm_header_id,folder_path)")
	return cmd
}

func newParticipantsResolveCommand(ctx *commandContext) *cobra.Command {
	var source registrySource

	cmd := &cobra.Command{
		Use:   "resolve RAW_ID",
		Short: "Look up the participant id a raw DICOM or source id maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, _, err := source.load(cfg)
			if err != nil {
				return err
			}
			pid, ok := reg.Resolve(args[0])
			if !ok {
				return services.Wrap(services.ErrNotFound, "participants", "resolve",
					fmt.Sprintf("no participant matches %q", strings.TrimSpace(args[0])), nil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pid)
			return nil
		},
	}
	source.bind(cmd)
	return cmd
}
