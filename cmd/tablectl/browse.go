package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/metadata"
	"resume-backend/internal/tableview"
)

var browseCmd = &cobra.Command{
	Use:   "browse <table>",
	Short: "Open an interactive browser for a table",
	Long: `Open an interactive browser for a table. Type "help" for commands.

Record edits take column=value pairs. Repeated columns take
column+=a|b|c to add an item and column-=N to remove item N.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := api.Config(ctx, args[0])
		if err != nil {
			return err
		}
		b := newBrowser(ctx, cfg, cmd.OutOrStdout())
		defer b.table.Close()
		return b.run()
	},
}

func newTableView(cfg *metadata.TableConfig) *tableview.Table {
	return tableview.NewTable(cfg, api, preferences())
}

type command struct {
	usage    string
	help     string
	category string
	handler  func(b *browser, args []string) error
}

type browser struct {
	ctx      context.Context
	cfg      *metadata.TableConfig
	table    *tableview.Table
	format   *tableview.Formatter
	out      io.Writer
	rl       *readline.Instance
	commands map[string]command
}

func newBrowser(ctx context.Context, cfg *metadata.TableConfig, out io.Writer) *browser {
	b := &browser{
		ctx:    ctx,
		cfg:    cfg,
		table:  newTableView(cfg),
		format: formatter(ctx),
		out:    out,
	}
	b.commands = browserCommands()
	return b
}

func browserCommands() map[string]command {
	return map[string]command{
		"search":   {"search [text]", "search the searchable columns; empty clears", "Query", (*browser).search},
		"sort":     {"sort <column>", "cycle ascending, descending, unsorted", "Query", (*browser).sort},
		"filter":   {"filter <column> <operator> <value>", "add a filter (equals, notEquals, contains, notContains)", "Query", (*browser).filter},
		"clear":    {"clear", "remove search and filters", "Query", (*browser).clear},
		"next":     {"next", "next page", "Pages", func(b *browser, _ []string) error { return b.show(b.table.NextPage(b.ctx)) }},
		"prev":     {"prev", "previous page", "Pages", func(b *browser, _ []string) error { return b.show(b.table.PrevPage(b.ctx)) }},
		"page":     {"page <n>", "go to page n", "Pages", (*browser).page},
		"size":     {"size <n>", "records per page", "Pages", (*browser).size},
		"refresh":  {"refresh", "reload the current page", "Pages", (*browser).refresh},
		"cols":     {"cols", "list columns and visibility", "Columns", (*browser).cols},
		"toggle":   {"toggle <column>", "show or hide a column", "Columns", (*browser).toggle},
		"select":   {"select <id|all>", "select a row or every row on the page", "Rows", (*browser).selectRows},
		"unselect": {"unselect [id]", "unselect a row, or all rows", "Rows", (*browser).unselect},
		"show":     {"show <id>", "show every field of a row", "Rows", (*browser).detail},
		"new":      {"new <column=value>...", "create a record", "Edit", (*browser).create},
		"edit":     {"edit <id> <column=value>...", "update a record", "Edit", (*browser).edit},
		"bulk":     {"bulk <column=value>...", "set columns on every selected row", "Edit", (*browser).bulk},
		"delete":   {"delete [id]", "delete a row, or every selected row", "Edit", (*browser).remove},
		"help":     {"help", "show this help", "General", (*browser).help},
	}
}

func (b *browser) completer() *readline.PrefixCompleter {
	columns := func(string) []string {
		ids := make([]string, 0, len(b.cfg.Columns))
		for _, c := range b.cfg.Columns {
			if c.Type != metadata.ColumnHidden {
				ids = append(ids, c.ID)
			}
		}
		return ids
	}
	rows := func(string) []string {
		var ids []string
		for _, r := range b.table.View().Rows {
			if id, _ := r[metadata.FieldID].(string); id != "" {
				ids = append(ids, id)
			}
		}
		return ids
	}

	var items []readline.PrefixCompleterInterface
	for _, name := range sortedKeys(b.commands) {
		switch name {
		case "sort", "toggle", "filter":
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(columns)))
		case "select", "unselect", "show", "edit", "delete":
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(rows)))
		default:
			items = append(items, readline.PcItem(name))
		}
	}
	items = append(items, readline.PcItem("exit"))
	return readline.NewPrefixCompleter(items...)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tablectl_history")
	}
	return filepath.Join(home, ".tablectl", "history")
}

func (b *browser) run() error {
	_ = os.MkdirAll(filepath.Dir(historyFile()), 0o755)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          colorHeader(b.cfg.Slug + "> "),
		HistoryFile:     historyFile(),
		AutoComplete:    b.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()
	b.rl = rl
	b.out = rl.Stdout()

	fmt.Fprintln(b.out, colorInfo(fmt.Sprintf("Browsing %s. Type \"help\" for commands.", b.cfg.Title)))
	if err := b.refresh(nil); err != nil {
		renderError(b.out, err)
	}

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(input) == 0 {
					return nil
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		name := strings.ToLower(fields[0])
		if name == "exit" || name == "quit" {
			return nil
		}
		cmd, ok := b.commands[name]
		if !ok {
			fmt.Fprintln(b.out, colorErr("Unknown command:"), name)
			continue
		}
		if err := cmd.handler(b, fields[1:]); err != nil {
			renderError(b.out, err)
		}
	}
}

// show prints the current page after a state change that returned err.
func (b *browser) show(err error) error {
	if err != nil {
		return err
	}
	v := b.table.View()
	renderGrid(b.out, b.table.VisibleColumns(), v.Rows, b.format, v.Selected)
	renderPagination(b.out, v.Pagination)
	if len(v.Selected) > 0 {
		fmt.Fprintln(b.out, colorInfo(fmt.Sprintf("%d selected; bulk and delete act on the selection", len(v.Selected))))
	}
	return nil
}

func (b *browser) refresh([]string) error {
	_, err := b.table.Refresh(b.ctx)
	return b.show(err)
}

func (b *browser) search(args []string) error {
	return b.show(b.table.ApplySearch(b.ctx, strings.Join(args, " ")))
}

func (b *browser) sort(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sort <column>")
	}
	return b.show(b.table.ToggleSort(b.ctx, args[0]))
}

func (b *browser) filter(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: filter <column> <operator> <value>")
	}
	f, err := parseFilter(args[0] + ":" + args[1] + ":" + strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	filters := b.table.View().Filters
	kept := filters[:0]
	for _, existing := range filters {
		if existing.Column != f.Column {
			kept = append(kept, existing)
		}
	}
	return b.show(b.table.SetFilters(b.ctx, append(kept, f)))
}

func (b *browser) clear([]string) error {
	if err := b.table.SetFilters(b.ctx, nil); err != nil {
		return err
	}
	if b.cfg.Features.Search.Enabled {
		return b.show(b.table.ApplySearch(b.ctx, ""))
	}
	return b.show(nil)
}

func (b *browser) page(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: page <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("page must be a number")
	}
	return b.show(b.table.SetPage(b.ctx, n-1))
}

func (b *browser) size(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: size <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("size must be a number")
	}
	return b.show(b.table.SetPageSize(b.ctx, n))
}

func (b *browser) cols([]string) error {
	visible := make(map[string]bool)
	for _, c := range b.table.VisibleColumns() {
		visible[c.ID] = true
	}
	for _, c := range b.cfg.Columns {
		if c.Type == metadata.ColumnHidden {
			continue
		}
		mark := colorWarn("hidden ")
		if visible[c.ID] {
			mark = colorOK("visible")
		}
		fmt.Fprintf(b.out, "  %s  %-18s %s\n", mark, c.ID, c.Header)
	}
	return nil
}

func (b *browser) toggle(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: toggle <column>")
	}
	return b.show(b.table.ToggleColumn(args[0]))
}

func (b *browser) selectRows(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: select <id|all>")
	}
	if args[0] == "all" {
		return b.show(b.table.SelectPage())
	}
	return b.show(b.table.Select(args[0]))
}

func (b *browser) unselect(args []string) error {
	if len(args) == 0 {
		b.table.ClearSelection()
	}
	for _, id := range args {
		b.table.Deselect(id)
	}
	return b.show(nil)
}

func (b *browser) detail(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <id>")
	}
	row, err := b.table.ShowDetail(args[0])
	if err != nil {
		return err
	}
	renderDetail(b.out, b.cfg, row, b.format)
	return nil
}

func (b *browser) create(args []string) error {
	form := tableview.NewForm(b.cfg, nil)
	return b.submit(form, args)
}

func (b *browser) edit(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: edit <id> <column=value>...")
	}
	row, err := b.table.ShowDetail(args[0])
	if err != nil {
		return err
	}
	return b.submit(tableview.NewForm(b.cfg, row), args[1:])
}

func (b *browser) submit(form *tableview.Form, args []string) error {
	for _, arg := range args {
		if err := applyAssignment(form, arg); err != nil {
			return err
		}
	}
	rec, err := form.Submit(b.ctx, api, b.table)
	if err != nil {
		renderNotification(b.out, form.Notification())
		form.Dismiss()
		return nil
	}
	fmt.Fprintln(b.out, colorOK("Saved"), rec[metadata.FieldID])
	return b.show(nil)
}

// applyAssignment applies column=value, column+=a|b|c or column-=N.
func applyAssignment(form *tableview.Form, arg string) error {
	switch {
	case strings.Contains(arg, "+="):
		name, raw, _ := strings.Cut(arg, "+=")
		fld := form.Field(name)
		if fld == nil {
			return fmt.Errorf("unknown column %s", name)
		}
		idx, err := form.AddItem(name)
		if err != nil {
			return err
		}
		keys := []string{"name", "email"}
		if fld.Control == tableview.ControlLineItems {
			keys = []string{"description", "quantity", "price"}
		}
		for i, part := range strings.Split(raw, "|") {
			if i >= len(keys) {
				break
			}
			if err := form.SetItem(name, idx, keys[i], part); err != nil {
				return err
			}
		}
		return nil
	case strings.Contains(arg, "-="):
		name, raw, _ := strings.Cut(arg, "-=")
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: item index must be a number", name)
		}
		return form.RemoveItem(name, n)
	}
	name, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("expected column=value, got %q", arg)
	}
	return form.Set(name, raw)
}

func (b *browser) bulk(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: bulk <column=value>...")
	}
	if !b.table.BulkActionsEnabled() {
		return errors.New("select at least one row first")
	}
	form, err := tableview.NewBulkForm(b.cfg, b.table.Selected())
	if err != nil {
		return err
	}
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected column=value, got %q", arg)
		}
		if err := form.Set(name, raw); err != nil {
			return err
		}
	}
	updated, err := form.Submit(b.ctx, api, b.table)
	if err != nil {
		renderNotification(b.out, form.Notification())
		return nil
	}
	fmt.Fprintln(b.out, colorOK("Updated"), len(updated), "record(s)")
	b.table.ClearSelection()
	return b.show(nil)
}

func (b *browser) remove(args []string) error {
	ids := args
	if len(ids) == 0 {
		ids = b.table.Selected()
	}
	if len(ids) == 0 {
		return errors.New("usage: delete <id>, or select rows first")
	}

	var (
		res *apiclient.DeleteResult
		err error
	)
	if len(ids) == 1 {
		res, err = api.Delete(b.ctx, b.cfg.Slug, ids[0])
	} else {
		res, err = api.BulkDelete(b.ctx, b.cfg.Slug, ids)
	}
	if err != nil {
		return err
	}
	renderDeleteResult(b.out, res)
	b.table.RemoveRows(ids)
	return b.refresh(nil)
}

func (b *browser) help([]string) error {
	byCategory := make(map[string][]command)
	for _, c := range b.commands {
		byCategory[c.category] = append(byCategory[c.category], c)
	}
	for _, cat := range []string{"Query", "Pages", "Columns", "Rows", "Edit", "General"} {
		cmds := byCategory[cat]
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].usage < cmds[j].usage })
		fmt.Fprintln(b.out, colorHeader(cat))
		for _, c := range cmds {
			fmt.Fprintf(b.out, "  %-34s %s\n", c.usage, c.help)
		}
	}
	fmt.Fprintf(b.out, "  %-34s %s\n", "exit", "leave the browser")
	return nil
}

func sortedKeys(m map[string]command) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
