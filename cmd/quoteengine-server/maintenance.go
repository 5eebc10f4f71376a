package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Archive and remove expired records once, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			removed := eng.quotes.SweepExpired(cmd.Context())
			if err := eng.records.Flush(cmd.Context()); err != nil {
				return fmt.Errorf("flush after sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired records\n", removed)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		output string
		stage  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write records as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			records, err := eng.quotes.ListRecords(service.ListRecordsRequest{Stage: stage})
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			return writeRecords(out, records)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&stage, "stage", "", "only export records in this stage")
	return cmd
}

func writeRecords(out io.Writer, records []domain.WorkflowRecord) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
