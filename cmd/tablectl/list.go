package main

import (
	"github.com/spf13/cobra"
)

var listQuery queryFlags

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables you can read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := api.Tables(cmd.Context())
		if err != nil {
			return err
		}
		renderTables(cmd.OutOrStdout(), tables)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "Print one page of a table",
	Long: `Print one page of a table using its visible columns.

Examples:
  tablectl list resumes --search ada --sort name --order desc
  tablectl list resumes -f status:equals:New -f skills:contains:Go --page 2`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listQuery.register(listCmd, true)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := api.Config(ctx, args[0])
	if err != nil {
		return err
	}
	params, err := listQuery.params()
	if err != nil {
		return err
	}
	page, err := api.List(ctx, cfg.Slug, params)
	if err != nil {
		return err
	}

	view := newTableView(cfg)
	out := cmd.OutOrStdout()
	renderGrid(out, view.VisibleColumns(), page.Items, formatter(ctx), nil)
	renderPagination(out, page.Pagination)
	return nil
}
