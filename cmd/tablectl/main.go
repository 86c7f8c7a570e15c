// Command tablectl browses and manages the resume tables from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/tableview"
)

// api is the authenticated client, set up by PersistentPreRunE.
var api *apiclient.Client

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorErr(err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tablectl",
	Short: "tablectl browses the resume tracking tables",
	Long: `tablectl is a terminal client for the table API. It lists, exports and
deletes records, and opens an interactive browser with search, sorting,
filters, selection and editing.

Settings come from flags or TABLECTL_* environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: connect,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "API base URL")
	flags.String("email", "", "login email")
	flags.String("password", "", "login password")
	flags.String("token", "", "access token (skips login)")
	flags.Duration("timeout", 30*time.Second, "request timeout")
	flags.String("prefs", defaultPrefsPath(), "column preferences file")

	for _, name := range []string{"server", "email", "password", "token", "timeout", "prefs"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("TABLECTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(browseCmd)
}

func defaultPrefsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tablectl-prefs.json"
	}
	return filepath.Join(home, ".tablectl", "prefs.json")
}

// connect builds the client and logs in unless a token was given.
func connect(cmd *cobra.Command, args []string) error {
	api = apiclient.New(viper.GetString("server"), viper.GetDuration("timeout"))
	if token := viper.GetString("token"); token != "" {
		api.SetToken(token)
		return nil
	}
	email := viper.GetString("email")
	if email == "" {
		return fmt.Errorf("set --email and --password, or --token")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
	defer cancel()
	if _, err := api.Login(ctx, email, viper.GetString("password")); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func preferences() tableview.PreferencesStore {
	return tableview.NewFilePreferences(viper.GetString("prefs"))
}

// formatter loads the status colors. A caller without access to the
// statuses table gets the default pill color.
func formatter(ctx context.Context) *tableview.Formatter {
	var palette tableview.StatusPalette
	page, err := api.List(ctx, "statuses", apiclient.ListParams{PageSize: 100})
	if err == nil {
		palette = tableview.PaletteFromRecords(page.Items)
	}
	return tableview.NewFormatter(time.Local, palette)
}
