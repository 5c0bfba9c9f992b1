package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bibliopanel/internal/config"
	"bibliopanel/internal/logger"
	"bibliopanel/internal/scheduler"
	"bibliopanel/internal/server"
	"bibliopanel/internal/theme"

	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "panelctl",
		Short:         "Administration tasks for the library panel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/config.dev.yaml", "Path to configuration file")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Time limit for the command")

	root.AddCommand(
		newCreateAdminCmd(opts),
		newRunJobCmd(opts),
		newSettingsCmd(opts),
		newThemeCmd(),
	)
	return root
}

// withApp loads the configuration, opens the backends and runs fn.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, app *server.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	app, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func newCreateAdminCmd(opts *options) *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Register a librarian account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *server.App) error {
				admin, err := app.Auth.CreateAdmin(ctx, email, name, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s\n", admin.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Initial password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRunJobCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "run-job [reconcile-stock|refresh-config|all]",
		Short:     "Run a scheduled job once",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"reconcile-stock", "refresh-config", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *server.App) error {
				jobs := scheduler.NewJobRunner(app.Catalog, app.Theme)
				switch args[0] {
				case "reconcile-stock":
					jobs.ReconcileStock()
				case "refresh-config":
					jobs.RefreshConfig()
				default:
					jobs.RunAll()
				}
				return nil
			})
		},
	}
}

func newSettingsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective organisation settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *server.App) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(app.Org.Settings(ctx))
			})
		},
	}
}

func newThemeCmd() *cobra.Command {
	var primary, secondary string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Render the CSS variables for a pair of theme colours",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := theme.NewContext().Set(primary, secondary)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(t)
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), t.CSSVariables())
			return err
		},
	}
	cmd.Flags().StringVar(&primary, "primary", theme.DefaultPrimary, "Primary colour (#RRGGBB)")
	cmd.Flags().StringVar(&secondary, "secondary", theme.DefaultSecondary, "Secondary colour (#RRGGBB)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the palettes as JSON")
	return cmd
}
