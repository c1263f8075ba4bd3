package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sle-predictor-server/internal/history"
)

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Export or import prediction history",
	}

	var out string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored prediction as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			return store.ExportJSON(cmd.Context(), w)
		},
	}
	exportCmd.Flags().StringVarP(&out, "output", "o", "-", "output file, - for stdout")

	var in string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load predictions from a JSON export, skipping known IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var r io.Reader = cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return fmt.Errorf("opening %s: %w", in, err)
				}
				defer f.Close()
				r = f
			}

			imported, skipped, err := store.ImportJSON(cmd.Context(), r)
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{
				"imported": imported,
				"skipped":  skipped,
			}).Info("History import finished")
			return nil
		},
	}
	importCmd.Flags().StringVarP(&in, "input", "i", "-", "input file, - for stdin")

	cmd.AddCommand(exportCmd, importCmd)
	return cmd
}

func (a *app) openStore() (history.Store, error) {
	return history.Open(*a.config.GetDatabaseConfig(), a.config.GetDatabaseConnectionString())
}
