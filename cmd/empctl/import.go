package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// decodeRecords reads a YAML or JSON list of column -> value maps.
func decodeRecords(r io.Reader) ([]models.Record, error) {
	var records []models.Record
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("no records found")
		}
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records found")
	}
	return records, nil
}

func importCmd() *cobra.Command {
	var (
		account  string
		filename string
		columns  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create an upload from a YAML or JSON list of records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := decodeRecords(f)
			if err != nil {
				return err
			}

			u := &models.Upload{
				Filename: filename,
				Records:  records,
			}
			if u.Filename == "" {
				u.Filename = filepath.Base(args[0])
			}
			if account != "" {
				id, err := uuid.Parse(account)
				if err != nil {
					return fmt.Errorf("invalid --account: %w", err)
				}
				u.AccountID = &id
			}
			if len(columns) > 0 {
				u.FieldMapping = datatypes.JSONMap{}
				for field, col := range columns {
					u.FieldMapping[field] = col
				}
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			if err := a.Uploads.Create(cmd.Context(), u); err != nil {
				return fmt.Errorf("create upload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upload %s created with %d records\n", u.ID, u.RecordCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account whose company settings apply")
	cmd.Flags().StringVar(&filename, "filename", "", "Name to store (default: file base name)")
	cmd.Flags().StringToStringVarP(&columns, "map", "m", nil, "Field to column overrides, e.g. iban=Konto")

	return cmd
}

func recountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recount <uploadID>",
		Short: "Recompute an upload's counters from its rows",
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
			u, err := a.Uploads.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			counters := models.CountRows(u.Rows)
			if err := a.Uploads.UpdateCounters(cmd.Context(), id, counters); err != nil {
				return err
			}
			return printJSON(cmd, counters)
		},
	}
}
