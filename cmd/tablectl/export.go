package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	exportQuery  queryFlags
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export <table>",
	Short: "Download matching records as csv, excel or pdf",
	Long: `Download every record matching the search and filters. The file name
defaults to the one chosen by the server.

Examples:
  tablectl export resumes --format excel
  tablectl export resumes -f status:Hired -o hired.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportQuery.register(exportCmd, false)
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv, excel or pdf")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file or directory")
}

func runExport(cmd *cobra.Command, args []string) error {
	params, err := exportQuery.params()
	if err != nil {
		return err
	}
	name, body, err := api.Export(cmd.Context(), args[0], exportFormat, params)
	if err != nil {
		return err
	}

	path := filepath.Base(name)
	if exportOutput != "" {
		path = exportOutput
		if info, err := os.Stat(exportOutput); err == nil && info.IsDir() {
			path = filepath.Join(exportOutput, filepath.Base(name))
		}
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", colorOK("Exported"), path, humanize.Bytes(uint64(len(body))))
	return nil
}
