package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"touchmap/internal/config"
	"touchmap/internal/export"
	"touchmap/internal/replay"
	"touchmap/internal/session"
	"touchmap/internal/store"
	"touchmap/internal/touch"
)

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "touchmap",
		Short: "Record touch sessions and render them as heatmaps",
		Long: `touchmap records touches into sessions, persists them, and renders
the stored sessions as PNG heatmaps.

Available subcommands:
  record      Replay an event stream into a new session
  sessions    List stored sessions
  raw         Print the stored sessions as JSON
  export      Render a heatmap
  clear       Remove every stored session
  config      Manage the configuration file
  storage     Inspect or roll back the database schema

Examples:
  touchmap record events.ndjson
  touchmap export -o heatmap.png
  touchmap export --events events.ndjson --session-only --data-uri
  touchmap --metrics-addr 127.0.0.1:9464 record events.ndjson`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (default: search standard locations)")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Log every touch event")

	cmd.AddCommand(newRecordCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newRawCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newClearCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newStorageCmd(opts))

	return cmd
}

func openEvents(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	return f, nil
}

// playEvents replays path into a fresh session.
func playEvents(ctx context.Context, cmd *cobra.Command, a *app, path string) (replay.Stats, error) {
	r, err := openEvents(cmd, path)
	if err != nil {
		return replay.Stats{}, err
	}
	defer r.Close()

	a.tm.Layout()
	return replay.Play(ctx, r, a.tm, replay.Options{
		RegisterRegions: true,
		Logger:          a.logger.WithComponent("replay").Logger,
	})
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record <events.ndjson|->",
		Short: "Replay an event stream into a new session",
		Long: `Replay a newline-delimited JSON event stream into a fresh session and
persist it when the stream ends, as if the app had gone to the background.

When reading from stdin, edits to the configuration file take effect
while the stream is open: debug turns event logging on or off and
logging.level changes the log level.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "record", func(ctx context.Context, a *app) error {
				if args[0] == "-" {
					if err := a.watchConfig(ctx); err != nil {
						a.logger.Warn("configuration will not be reloaded", "error", err)
					}
				}
				stats, err := playEvents(ctx, cmd, a, args[0])
				if err != nil {
					return err
				}
				current, _ := a.tm.Current()
				if err := a.tm.AppStateChanged(ctx, session.StateBackground); err != nil {
					return fmt.Errorf("persist session: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s: %d events, %d touches recorded, %d ignored\n",
					current.ID, stats.Events, stats.Appended, stats.Ignored)

				t := table.NewWriter()
				t.SetOutputMirror(out)
				t.AppendHeader(table.Row{"Event", "Count"})
				for _, kind := range stats.Kinds() {
					t.AppendRow(table.Row{kind, stats.ByKind[kind]})
				}
				t.SetStyle(table.StyleLight)
				t.Render()
				return nil
			})
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func completedTouches(s touch.Session) int {
	n := 0
	for _, m := range s.Touches {
		if m.Completed() {
			n++
		}
	}
	return n
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "sessions", func(ctx context.Context, a *app) error {
				list, err := a.store.GetAllAsList(ctx)
				if err != nil {
					return err
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"ID", "Start", "End", "Touches", "Completed", "Device"})
				total := 0
				for _, s := range list {
					start := s.StartTime
					t.AppendRow(table.Row{
						s.ID,
						formatTime(&start),
						formatTime(s.EndTime),
						len(s.Touches),
						completedTouches(s),
						fmt.Sprintf("%gx%g", s.DeviceSize.Width, s.DeviceSize.Height),
					})
					total += len(s.Touches)
				}
				t.AppendFooter(table.Row{fmt.Sprintf("%d sessions", len(list)), "", "", total, "", ""})
				t.SetStyle(table.StyleLight)
				t.Render()
				return nil
			})
		},
	}
}

func newRawCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "raw",
		Short: "Print the stored sessions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "raw", func(ctx context.Context, a *app) error {
				all, err := a.tm.Raw(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(all)
			})
		},
	}
}

type exportOptions struct {
	Output      string
	SessionOnly bool
	DataURI     bool
	Events      string
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	eo := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a heatmap",
		Long: `Render a heatmap of every stored session, or with --session-only of the
current session. The current session is the one replayed from --events;
without --events there is none.

Examples:
  touchmap export -o heatmap.png
  touchmap export --events events.ndjson --session-only --data-uri`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "export", func(ctx context.Context, a *app) error {
				return runExport(ctx, cmd, a, eo)
			})
		},
	}

	cmd.Flags().StringVarP(&eo.Output, "output", "o", "", "Output PNG file (default: touchmap-<canvas id>.png)")
	cmd.Flags().BoolVar(&eo.SessionOnly, "session-only", false, "Render the current session only (default from config)")
	cmd.Flags().BoolVar(&eo.DataURI, "data-uri", false, "Print the image as a data URI instead of writing a file")
	cmd.Flags().StringVar(&eo.Events, "events", "", "Replay this event stream into the current session first")

	return cmd
}

func runExport(ctx context.Context, cmd *cobra.Command, a *app, eo *exportOptions) error {
	if eo.Events != "" {
		if _, err := playEvents(ctx, cmd, a, eo.Events); err != nil {
			return err
		}
	}

	sessionOnly := a.cfg.SessionOnly
	if cmd.Flags().Changed("session-only") {
		sessionOnly = eo.SessionOnly
	}

	res, err := a.tm.ExportSessions(ctx, sessionOnly)
	var timeout *export.TimeoutError
	switch {
	case errors.As(err, &timeout):
		return fmt.Errorf("renderer did not answer within %v", timeout.Timeout)
	case err != nil:
		return err
	}

	out := cmd.OutOrStdout()
	if eo.DataURI {
		fmt.Fprintln(out, res.Image.DataURI())
		return nil
	}

	path := eo.Output
	if path == "" {
		path = fmt.Sprintf("touchmap-%s.png", res.CanvasID)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, res.Image.Data, 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	fmt.Fprintf(out, "Wrote %s (%d sessions, %d points, max %g)\n", path, res.Sessions, res.Points, res.Max)
	return nil
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "clear", func(ctx context.Context, a *app) error {
				if err := a.tm.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared stored sessions")
				return nil
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(opts.ConfigPath)
			_, created, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})

	return cmd
}

// sqliteBackend returns the app's backend if it has schema migrations.
func sqliteBackend(a *app) (*store.SQLite, error) {
	db, ok := a.backend.(*store.SQLite)
	if !ok {
		return nil, fmt.Errorf("storage type %s has no schema migrations", a.cfg.Storage.Type)
	}
	return db, nil
}

func newStorageCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect or roll back the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the storage backend and its schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "storage status", func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Storage: %s at %s (key %s)\n", a.cfg.Storage.Type, a.cfg.StoragePath(), a.store.Key())

				db, err := sqliteBackend(a)
				if err != nil {
					fmt.Fprintln(out, err)
					return nil
				}
				version, err := db.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				states, err := db.Migrations(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Schema version %d of %d\n", version, store.LatestVersion())
				if at, ok, err := db.UpdatedAt(ctx, a.store.Key()); err == nil && ok {
					fmt.Fprintf(out, "Sessions last written %s\n", at.Local().Format(time.DateTime))
				}

				t := table.NewWriter()
				t.SetOutputMirror(out)
				t.AppendHeader(table.Row{"Version", "Description", "Applied"})
				for _, st := range states {
					applied := "-"
					if st.Applied {
						applied = st.AppliedAt.Local().Format(time.DateTime)
					}
					t.AppendRow(table.Row{st.Version, st.Description, applied})
				}
				t.SetStyle(table.StyleLight)
				t.Render()
				return nil
			})
		},
	})

	var target int
	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Roll the database schema back for an older touchmap build",
		Long: `Roll the SQLite schema back to an earlier version so that an older
touchmap build can open the database. Stored sessions are kept. The next
command run by this build migrates the schema forward again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, "storage rollback", func(ctx context.Context, a *app) error {
				db, err := sqliteBackend(a)
				if err != nil {
					return err
				}
				version, err := db.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				to := target
				if !cmd.Flags().Changed("to") {
					to = version - 1
				}
				if to < 1 || to >= version {
					return fmt.Errorf("cannot roll back from schema version %d to %d (valid: 1..%d)", version, to, version-1)
				}
				if err := db.MigrateTo(ctx, to); err != nil {
					return err
				}
				a.logger.Info("schema rolled back", "from", version, "to", to)
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back schema version %d to %d\n", version, to)
				return nil
			})
		},
	}
	rollback.Flags().IntVar(&target, "to", 0, "Target schema version (default: one step back)")
	cmd.AddCommand(rollback)

	return cmd
}
