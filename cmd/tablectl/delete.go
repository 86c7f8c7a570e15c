package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"resume-backend/internal/apiclient"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <table> <id>...",
	Short: "Delete one or more records",
	Long: `Delete records by id. Several ids are removed with one bulk request;
ids that do not exist are reported and skipped.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug, ids := args[0], args[1:]
		var (
			res *apiclient.DeleteResult
			err error
		)
		if len(ids) == 1 {
			res, err = api.Delete(cmd.Context(), slug, ids[0])
		} else {
			res, err = api.BulkDelete(cmd.Context(), slug, ids)
		}
		if err != nil {
			return err
		}
		renderDeleteResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func renderDeleteResult(w io.Writer, res *apiclient.DeleteResult) {
	fmt.Fprintf(w, "%s %d record(s)\n", colorOK("Deleted"), res.DeletedCount)
	if len(res.NotFound) > 0 {
		fmt.Fprintf(w, "%s %s\n", colorWarn("Not found:"), strings.Join(res.NotFound, ", "))
	}
	if res.CleanupPending {
		fmt.Fprintln(w, colorWarn("Attached file cleanup is pending and will be retried."))
	}
}
