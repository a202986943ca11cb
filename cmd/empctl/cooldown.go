package main

import (
	"github.com/spf13/cobra"
)

func cooldownCmd() *cobra.Command {
	var (
		windowDays int
		apply      bool
	)

	cmd := &cobra.Command{
		Use:   "cooldown <uploadID>",
		Short: "Check an upload's IBANs against the cooldown window",
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
			res, marked, err := a.Cooldown.CheckUpload(cmd.Context(), id, windowDays, apply)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"result":      res,
				"rows_marked": marked,
			})
		},
	}

	cmd.Flags().IntVarP(&windowDays, "window-days", "w", 0, "Cooldown window in days (default from config)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Mark violating pending rows as errors")

	return cmd
}
