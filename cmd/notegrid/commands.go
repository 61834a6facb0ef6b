package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/notegrid/internal/app"
	"github.com/Joseda-hg/notegrid/internal/config"
	"github.com/Joseda-hg/notegrid/internal/engine"
	"github.com/Joseda-hg/notegrid/internal/logging"
	"github.com/Joseda-hg/notegrid/internal/model"
	"github.com/Joseda-hg/notegrid/internal/tui"
	"github.com/Joseda-hg/notegrid/internal/web"
)

// NewRootCommand runs the terminal client, optionally with the local API
// alongside it.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "notegrid",
		Short:         "Local-first Eisenhower matrix with cloud sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			ctx := cmd.Context()
			if err := a.Start(ctx); err != nil {
				return err
			}

			withWeb, _ := cmd.Flags().GetBool("web")
			if !withWeb && !a.Config.Web.Enabled {
				return tui.Run(a.Engine, a.Session, a)
			}

			ctx, cancel := context.WithCancel(ctx)
			served := make(chan error, 1)
			go func() {
				served <- web.NewServer(a, logger.WithComponent("web")).ListenAndServe(ctx, listenAddr(a.Config))
			}()

			err = tui.Run(a.Engine, a.Session, a)
			cancel()
			if serveErr := <-served; serveErr != nil {
				logger.Errorw("local API stopped", "error", serveErr)
			}
			return err
		},
	}

	cmd.PersistentFlags().String("config", "", "config file path")
	cmd.PersistentFlags().String("db", "", "sqlite db path")
	cmd.PersistentFlags().Int("port", 0, "local API port")
	cmd.Flags().Bool("web", false, "also serve the local API")
	return cmd
}

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local API without the terminal client",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			ctx := cmd.Context()
			if err := a.Start(ctx); err != nil {
				if !errors.Is(err, app.ErrNotLoggedIn) {
					return err
				}
				logger.Warnw("serving without an account", "error", err)
			}
			return web.NewServer(a, logger.WithComponent("web")).ListenAndServe(ctx, listenAddr(a.Config))
		},
	}
}

func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [code]",
		Short: "Log in with a sync code, or create a new one with --new",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			createNew, _ := cmd.Flags().GetBool("new")
			if createNew == (len(args) == 1) {
				return errors.New("pass either a sync code or --new")
			}

			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			var credential string
			if createNew {
				credential, err = a.CreateAccount(cmd.Context())
			} else {
				credential, err = a.Login(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			outcome := a.Engine.Refresh(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", credential, outcome)
			if createNew {
				fmt.Fprintln(cmd.OutOrStdout(), "keep this code: it is the only way to reach your data from another device")
			}
			return nil
		},
	}
	cmd.Flags().Bool("new", false, "generate and register a new sync code")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the account and its cached data on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)
			return a.Logout(cmd.Context())
		},
	}
}

func NewDeleteAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Erase the account on the server and log out",
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed, _ := cmd.Flags().GetBool("yes")
			if !confirmed {
				return errors.New("this erases every task and link on the server; rerun with --yes")
			}

			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)
			return a.DeleteAccount(cmd.Context())
		},
	}
	cmd.Flags().Bool("yes", false, "confirm the deletion")
	return cmd
}

func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile with the server once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			outcome, err := a.Sync(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Engine.Flush(cmd.Context()); err != nil {
				return fmt.Errorf("push local changes: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the account and the last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			ctx := cmd.Context()
			credential, err := a.Credential(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if credential == "" {
				fmt.Fprintln(out, "not logged in")
				return nil
			}

			fmt.Fprintf(out, "account:   %s\n", credential)
			fmt.Fprintf(out, "storage:   %s\n", storageName(a.Config))
			fmt.Fprintf(out, "theme:     %s\n", a.Theme(ctx))

			a.Engine.Activate(credential)
			if a.Engine.LoadCached(ctx) {
				data, _ := a.Engine.Snapshot()
				fmt.Fprintf(out, "cached:    %d tasks, %d links\n", len(data.Tasks), len(data.Links))
			} else {
				fmt.Fprintln(out, "cached:    nothing")
			}

			entries, err := a.SyncLog(ctx, 200)
			if err != nil {
				return err
			}
			if last, ok := lastSync(entries); ok {
				fmt.Fprintf(out, "last sync: %s\n", last.Local().Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "last sync: never")
			}
			return nil
		},
	}
}

func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all tasks and links with the contents of an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			if _, err := a.Sync(cmd.Context()); err != nil {
				return err
			}
			result, err := a.Engine.ImportData(string(raw))
			if err != nil {
				return err
			}
			if err := a.Engine.Flush(cmd.Context()); err != nil {
				logger.Warnw("import saved locally but not sent", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tasks and %d links\n", result.TasksImported, result.LinksImported)
			return nil
		},
	}
}

func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write all tasks and links as JSON to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			if _, err := a.Sync(cmd.Context()); err != nil {
				return err
			}
			payload, err := a.Engine.Export()
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				file, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			_, err = out.Write(append(payload, '\n'))
			return err
		},
	}
}

func NewThemeCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "theme [light|dark|system]",
		Short:     "Show or set the display theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(model.ThemeLight), string(model.ThemeDark), string(model.ThemeSystem)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer shutdown(a, logger)

			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.Theme(cmd.Context()))
				return nil
			}
			theme, ok := model.ParseTheme(args[0])
			if !ok {
				return fmt.Errorf("unknown theme %q", args[0])
			}
			return a.SetTheme(cmd.Context(), theme)
		},
	}
}

// setup loads the configuration, applies flag overrides and opens the app.
// The terminal client logs to a file so output does not corrupt the screen.
func setup(cmd *cobra.Command, interactive bool) (*app.App, *logging.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		var err error
		if configPath, err = config.DefaultConfigPath(); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(configPath), "notegrid.db")
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Web.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	if err := config.Save(configPath, cfg); err != nil {
		return nil, nil, err
	}

	if interactive && cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(filepath.Dir(configPath), "notegrid.log")
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	return a, logger, nil
}

func shutdown(a *app.App, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Remote.Timeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Errorw("closing app", "error", err)
	}
	_ = logger.Close()
}

func listenAddr(cfg config.Config) string {
	return fmt.Sprintf(":%d", cfg.Web.Port)
}

func storageName(cfg config.Config) string {
	if cfg.Storage.Driver == "redis" {
		return "redis " + cfg.Storage.RedisAddr
	}
	return "sqlite " + cfg.DBPath
}

// lastSync finds the newest entry that left local and remote in agreement.
// entries are newest first.
func lastSync(entries []model.SyncLogEntry) (time.Time, bool) {
	for _, entry := range entries {
		switch engine.EventKind(entry.Kind) {
		case engine.EventWriteSynced, engine.EventRemoteAdopted:
			return entry.CreatedAt, true
		}
	}
	return time.Time{}, false
}
