// ABOUTME: chitchat-admin subcommands
// ABOUTME: Each command loads config, runs one coordinator operation and prints a summary

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/2389/chitchat/internal/backup"
	"github.com/2389/chitchat/internal/backup/sink"
	"github.com/2389/chitchat/internal/config"
	"github.com/2389/chitchat/internal/store"
)

const s3Scheme = "s3://"

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "bring the schema up to date",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "status", Usage: "list applied migrations"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			entries, err := rt.coord.Migrate(c.Context)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			green.Print("✓ ")
			fmt.Printf("Schema is current (%d migrations applied)\n", len(entries))

			if c.Bool("status") {
				gray := color.New(color.FgHiBlack)
				for _, e := range entries {
					fmt.Printf("  %-45s ", e.Name)
					gray.Println(e.AppliedAt.Format(time.RFC3339))
				}
			}
			return nil
		}),
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "write an encrypted snapshot of the database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write the backup to `FILE`"},
			&cli.StringFlag{Name: "sink", Value: "file", Usage: "destination when --out is not given: file or s3"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			dst, err := backupDestination(c.Context, rt.cfg, c.String("out"), c.String("sink"))
			if err != nil {
				return err
			}

			passphrase, err := readPassphrase(true)
			if err != nil {
				return err
			}

			snap, location, err := rt.coord.Backup(c.Context, passphrase, dst)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			cyan := color.New(color.FgCyan)
			green.Print("✓ ")
			fmt.Print("Backup written to ")
			cyan.Println(location)
			fmt.Printf("  created: %s\n", snap.CreatedAt.Format(backup.CreatedAtLayout))
			fmt.Printf("  size:    %d bytes\n", len(snap.Payload))
			return nil
		}),
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list stored backups",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sink", Value: "file", Usage: "file or s3"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			src, err := configuredSink(c.Context, rt.cfg, c.String("sink"))
			if err != nil {
				return err
			}
			names, err := src.List(c.Context)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				color.Yellow("No backups found\n")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}),
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "print a backup's header without decrypting it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Required: true, Usage: "backup `FILE` or s3://NAME"},
		},
		Action: func(c *cli.Context) error {
			var cfg *config.Config
			in := c.String("in")
			if strings.HasPrefix(in, s3Scheme) {
				loaded, err := config.Load(c.String("config"))
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				cfg = loaded
			}

			src, name, err := openLocation(c.Context, cfg, in)
			if err != nil {
				return err
			}
			payload, err := src.Get(c.Context, name)
			if err != nil {
				return err
			}
			header, err := backup.Inspect(payload)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			cyan.Print("version:   ")
			fmt.Println(header.Version)
			cyan.Print("algorithm: ")
			fmt.Println(header.Algorithm)
			cyan.Print("created:   ")
			fmt.Println(header.CreatedAt.Format(backup.CreatedAtLayout))
			cyan.Print("size:      ")
			fmt.Printf("%d bytes\n", len(payload))
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "replace the database with a backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Required: true, Usage: "backup `FILE` or s3://NAME"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			src, name, err := openLocation(c.Context, rt.cfg, c.String("in"))
			if err != nil {
				return err
			}

			if !c.Bool("yes") {
				ok, err := confirmAction(c.App.Reader, c.App.Writer,
					fmt.Sprintf("Replace %s with %s?", rt.cfg.Database.Path, c.String("in")))
				if err != nil {
					return err
				}
				if !ok {
					color.Yellow("Restore cancelled\n")
					return nil
				}
			}

			passphrase, err := readPassphrase(false)
			if err != nil {
				return err
			}

			result, err := rt.coord.Restore(c.Context, src, name, passphrase)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			green.Print("✓ ")
			fmt.Printf("Restored %s\n", rt.cfg.Database.Path)
			if result.RollbackPath != "" {
				fmt.Printf("  previous database kept at %s\n", result.RollbackPath)
			}
			for _, f := range result.Cleanup.Failed() {
				yellow.Print("  ! ")
				fmt.Printf("%s %s: %v\n", f.Action, f.Path, f.Err)
			}
			return nil
		}),
	}
}

func relocateCommand() *cli.Command {
	return &cli.Command{
		Name:  "relocate",
		Usage: "move attachment files to a new storage root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "current root (defaults to attachments.root)"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "new root"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			from := c.String("from")
			if from == "" {
				from = rt.cfg.Attachments.Root
			}

			result, err := rt.coord.Relocate(c.Context, from, c.String("to"))
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			red := color.New(color.FgRed)
			green.Print("✓ ")
			fmt.Printf("Relocated attachments: %d moved, %d already present, %d missing, %d failed\n",
				result.Moved, result.AlreadyPresent, result.MissingSource, len(result.Failed))
			for _, f := range result.Failed {
				red.Print("  ✗ ")
				fmt.Printf("%s: %s\n", f.Path, f.Message)
			}
			if from != c.String("to") {
				color.Yellow("Remember to set attachments.root to %s\n", c.String("to"))
			}
			return nil
		}),
	}
}

func reapCommand() *cli.Command {
	return &cli.Command{
		Name:  "reap",
		Usage: "apply retention policies once",
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			result, err := rt.coord.Reap(c.Context)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			green.Print("✓ ")
			fmt.Printf("Deleted %d messages in %d of %d rooms\n",
				result.MessagesDeleted, result.RoomsWithRetention, result.RoomsEvaluated)
			fmt.Printf("  orphaned attachments: %d rows, %d files\n",
				result.OrphanAttachmentsDeleted, result.OrphanFilesDeleted)
			for _, f := range result.RoomFailures {
				yellow.Print("  ! ")
				fmt.Printf("room %s: %v\n", f.RoomID, f.Err)
			}
			for _, f := range result.Cleanup.Failed() {
				yellow.Print("  ! ")
				fmt.Printf("%s %s: %v\n", f.Action, f.Path, f.Err)
			}
			return nil
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show the maintenance journal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "operation", Usage: "only show this operation"},
			&cli.DurationFlag{Name: "since", Usage: "only show entries newer than this, e.g. 72h"},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			filter := store.JournalFilter{Limit: c.Int("limit")}
			if op := c.String("operation"); op != "" {
				filter.Operation = &op
			}
			if d := c.Duration("since"); d > 0 {
				since := time.Now().Add(-d)
				filter.Since = &since
			}

			entries, err := rt.coord.History(c.Context, filter)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				color.Yellow("No maintenance history\n")
				return nil
			}

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			for _, e := range entries {
				gray.Print(e.Timestamp.Format(time.RFC3339) + " ")
				cyan.Printf("%-9s ", e.Operation)
				fmt.Printf("%-12s %s\n", e.Actor, formatDetail(e.Detail))
			}
			return nil
		}),
	}
}

// formatDetail renders a journal detail map as sorted key=value pairs
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the retention schedule and the metrics endpoint",
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			cyan := color.New(color.FgCyan)
			cyan.Print(banner)
			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			green := color.New(color.FgGreen)
			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", rt.configPath)
			green.Print("    ▶ ")
			fmt.Printf("Database:  %s\n", rt.cfg.Database.Path)
			if rt.cfg.Retention.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Retention: every %s, default %d days\n", rt.cfg.Retention.Interval, rt.cfg.Retention.DefaultDays)
			}
			if rt.cfg.Metrics.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Metrics:   http://%s%s\n", rt.cfg.Metrics.Addr, rt.cfg.Metrics.Path)
			}
			fmt.Println()

			if !rt.cfg.Retention.Enabled && !rt.cfg.Metrics.Enabled {
				return errors.New("nothing to serve: enable retention or metrics")
			}

			// Fail fast on schema problems before starting anything
			if _, err := rt.coord.Migrate(c.Context); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(c.Context)

			if rt.cfg.Retention.Enabled {
				g.Go(func() error {
					return rt.coord.RunRetention(ctx, rt.cfg.Retention.Interval)
				})
			}

			if rt.cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle(rt.cfg.Metrics.Path, rt.metrics.Handler())
				srv := &http.Server{
					Addr:              rt.cfg.Metrics.Addr,
					Handler:           mux,
					ReadHeaderTimeout: 10 * time.Second,
				}

				g.Go(func() error {
					rt.logger.Info("metrics endpoint listening", "addr", srv.Addr, "path", rt.cfg.Metrics.Path)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			rt.logger.Info("chitchat-admin serving")
			return g.Wait()
		}),
	}
}

// backupDestination picks where a new backup goes: an explicit file, the
// configured S3 bucket or the configured backup directory
func backupDestination(ctx context.Context, cfg *config.Config, out, kind string) (sink.Sink, error) {
	if out != "" {
		if strings.HasPrefix(out, s3Scheme) {
			s3, err := newS3Sink(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return &namedSink{Sink: s3, name: strings.TrimPrefix(out, s3Scheme)}, nil
		}
		return &namedSink{Sink: sink.NewFileSink(filepath.Dir(out)), name: filepath.Base(out)}, nil
	}
	return configuredSink(ctx, cfg, kind)
}

func configuredSink(ctx context.Context, cfg *config.Config, kind string) (sink.Sink, error) {
	switch kind {
	case "s3":
		return newS3Sink(ctx, cfg)
	case "file", "":
		if cfg.Backup.Dir == "" {
			return nil, errors.New("backup.dir is not configured")
		}
		return sink.NewFileSink(cfg.Backup.Dir), nil
	default:
		return nil, fmt.Errorf("unknown sink %q (want file or s3)", kind)
	}
}

// openLocation maps a --in argument to the sink holding it and its name
// there. "s3://NAME" refers to the configured bucket; anything else is a
// local file.
func openLocation(ctx context.Context, cfg *config.Config, loc string) (sink.Sink, string, error) {
	if strings.HasPrefix(loc, s3Scheme) {
		name := strings.TrimPrefix(loc, s3Scheme)
		if name == "" {
			return nil, "", fmt.Errorf("missing object name in %q", loc)
		}
		s3, err := newS3Sink(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return s3, name, nil
	}
	if _, err := os.Stat(loc); err != nil {
		return nil, "", fmt.Errorf("opening backup: %w", err)
	}
	return sink.NewFileSink(filepath.Dir(loc)), filepath.Base(loc), nil
}

func newS3Sink(ctx context.Context, cfg *config.Config) (*sink.S3Sink, error) {
	if cfg == nil || !cfg.Backup.S3.Enabled() {
		return nil, errors.New("backup.s3.bucket is not configured")
	}
	s3 := cfg.Backup.S3
	return sink.NewS3Sink(ctx, sink.S3Config{
		Bucket:          s3.Bucket,
		Region:          s3.Region,
		Prefix:          s3.Prefix,
		Endpoint:        s3.Endpoint,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
	})
}

// namedSink stores every Put under a fixed name
type namedSink struct {
	sink.Sink
	name string
}

func (n *namedSink) Put(ctx context.Context, _ string, payload []byte) (string, error) {
	return n.Sink.Put(ctx, n.name, payload)
}
