package main

import (
	"fmt"

	"emp-payments-backend/internal/services/mapping"
	"emp-payments-backend/internal/services/submission"

	"github.com/spf13/cobra"
)

func submitCmd() *cobra.Command {
	var opts submission.Options

	cmd := &cobra.Command{
		Use:   "submit <uploadID>",
		Short: "Submit the pending rows of an upload to the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUploadID(args[0])
			if err != nil {
				return err
			}
			if opts.FilterByAmount != "" {
				if _, err := mapping.ParseAmount(opts.FilterByAmount); err != nil {
					return fmt.Errorf("invalid --filter-amount: %w", err)
				}
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			res, err := a.Submitter.SubmitBatch(cmd.Context(), id, a.SubmitOptions(opts))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "c", 0, "Parallel gateway calls per group (default from config)")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", 0, "Rows per group (default from config)")
	cmd.Flags().IntVarP(&opts.MaxRecords, "max-records", "n", 0, "Stop after this many rows")
	cmd.Flags().StringVar(&opts.FilterByAmount, "filter-amount", "", "Only submit rows with this amount")
	cmd.Flags().IntVar(&opts.AmountLimit, "amount-limit", 0, "Cap on rows matching --filter-amount")

	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-errors <uploadID>",
		Short: "Move errored rows back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUploadID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			n, err := a.Submitter.ResetErrors(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows reset\n", n)
			return nil
		},
	}
}
