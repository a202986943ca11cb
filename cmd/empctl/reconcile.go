package main

import (
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [uploadID]",
		Short: "Reconcile one upload, or every recent upload when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				res, err := a.Reconciler.ReconcileRecent(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}

			id, err := parseUploadID(args[0])
			if err != nil {
				return err
			}
			report, updated, err := a.Reconciler.ReconcileUpload(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"report":       report,
				"rows_updated": updated,
			})
		},
	}
}
