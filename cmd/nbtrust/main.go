package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/nbtrust/internal"
	"github.com/starford/nbtrust/internal/mcpserver"
	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/storage"
	"github.com/starford/nbtrust/internal/trust"
	"github.com/starford/nbtrust/internal/trustservice"
	pkgconfig "github.com/starford/nbtrust/pkg/config"
)

var version = "dev"

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	if cmd.IsSet("algorithm") {
		cfg.Trust.Algorithm = cmd.String("algorithm")
	}
	if cmd.IsSet("data-dir") {
		cfg.Trust.DataDir = cmd.String("data-dir")
	}
	if cmd.IsSet("db-file") {
		cfg.Trust.DBFile = cmd.String("db-file")
	}
	if cmd.IsSet("cache-size") {
		cfg.Trust.CacheSize = int(cmd.Int("cache-size"))
	}
	if cmd.IsSet("workspace") {
		cfg.Workspace.Path = cmd.String("workspace")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// withNotary runs fn with a notary built from the command's configuration.
// Logs go to stderr; stdout carries command output only.
func withNotary(ctx context.Context, cmd *cli.Command, fn func(*internal.Config, *notary.Notary, *trust.DB) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg.App.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	n, db, err := internal.OpenNotary(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cfg, n, db)
}

func streams() internal.Streams {
	return internal.Streams{In: os.Stdin, Out: os.Stdout}
}

func signAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(_ *internal.Config, n *notary.Notary, _ *trust.DB) error {
		if cmd.Bool("if-cells-trusted") {
			return internal.SignTrustedOutput(ctx, n, cmd.Args().Slice(), streams())
		}
		return internal.SignNotebooks(ctx, n, cmd.Args().Slice(), streams())
	})
}

func markAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(_ *internal.Config, n *notary.Notary, _ *trust.DB) error {
		return internal.MarkNotebooks(ctx, n, cmd.Args().Slice(), streams())
	})
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(_ *internal.Config, n *notary.Notary, _ *trust.DB) error {
		ok, err := internal.CheckNotebooks(ctx, n, cmd.Args().Slice(), streams())
		if err != nil {
			return err
		}
		if !ok {
			return cli.Exit("", 1)
		}
		return nil
	})
}

func unsignAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(_ *internal.Config, n *notary.Notary, _ *trust.DB) error {
		return internal.UnsignNotebooks(ctx, n, cmd.Args().Slice(), streams())
	})
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(cfg *internal.Config, n *notary.Notary, db *trust.DB) error {
		store, err := storage.NewFS(cfg.Workspace.Path)
		if err != nil {
			return err
		}
		st, err := trustservice.NewService(n, store).Status(ctx, cmd.Args().First())
		if err != nil {
			return err
		}
		internal.PrintStatus(os.Stdout, st)
		return internal.PrintStore(os.Stdout, db, cfg.Trust.ResolvedDBFile(), int(cmd.Int("recent")))
	})
}

func cullAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(_ *internal.Config, n *notary.Notary, _ *trust.DB) error {
		removed, err := n.Cull(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %d signatures\n", removed)
		return nil
	})
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("watch") {
		cfg.Workspace.Watch = cmd.Bool("watch")
	}
	logger := internal.NewLogger(cfg.App.LogLevel, os.Stdout)
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithLogger(logger)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	return withNotary(ctx, cmd, func(cfg *internal.Config, n *notary.Notary, _ *trust.DB) error {
		store, err := storage.NewFS(cfg.Workspace.Path)
		if err != nil {
			return err
		}
		return mcpserver.New(trustservice.NewService(n, store), version).ServeStdio()
	})
}

func main() {
	cmd := &cli.Command{
		Name:    "nbtrust",
		Usage:   "Sign notebooks and decide whether their output can be trusted",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (missing file means defaults)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("NBTRUST_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("NBTRUST_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "algorithm",
				Usage:   "Digest algorithm for signatures",
				Sources: cli.EnvVars("NBTRUST_ALGORITHM"),
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the secret and the trust database",
			},
			&cli.StringFlag{
				Name:  "db-file",
				Usage: "Trust database file (\":memory:\" for a private store)",
			},
			&cli.IntFlag{
				Name:  "cache-size",
				Usage: "Maximum number of signatures kept after a cull",
			},
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Notebook directory for status, serve and mcp",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "sign",
				Usage:     "Record notebooks as trusted (reads stdin when no file is given)",
				ArgsUsage: "[notebook.ipynb ...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "if-cells-trusted",
						Usage: "Sign only notebooks whose output is all marked trusted",
					},
				},
				Action: signAction,
			},
			{
				Name:      "check",
				Usage:     "Report whether notebooks are trusted; exits 1 if any is not",
				ArgsUsage: "[notebook.ipynb ...]",
				Action:    checkAction,
			},
			{
				Name:      "mark",
				Usage:     "Stamp code cells with each notebook's trust verdict, rewriting files in place",
				ArgsUsage: "[notebook.ipynb ...]",
				Action:    markAction,
			},
			{
				Name:      "unsign",
				Usage:     "Remove notebook signatures",
				ArgsUsage: "[notebook.ipynb ...]",
				Action:    unsignAction,
			},
			{
				Name:      "status",
				Usage:     "Show the trust state of every notebook in the workspace",
				ArgsUsage: "[folder]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "recent",
						Usage: "Also list this many most recently used signatures",
					},
				},
				Action: statusAction,
			},
			{
				Name:   "cull",
				Usage:  "Evict least-recently-used signatures beyond the cache size now",
				Action: cullAction,
			},
			{
				Name:  "serve",
				Usage: "Run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Watch the workspace and stream trust changes",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "mcp",
				Usage:  "Serve trust tools over MCP stdio",
				Action: mcpAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
