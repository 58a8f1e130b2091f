package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/linkfix/internal"
	pkgconfig "github.com/starford/linkfix/pkg/config"
)

var version = "dev"

type entryFunc func(ctx context.Context, opts ...internal.Option) error

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("root") {
		cfg.Rewriter.Root = cmd.String("root")
	}
	if cmd.IsSet("dry-run") {
		cfg.Rewriter.DryRun = cmd.Bool("dry-run")
	}
	if cmd.IsSet("workers") {
		cfg.Rewriter.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("ledger") {
		cfg.Ledger.Enabled = true
		cfg.Ledger.Path = cmd.String("ledger")
	}
	return cfg, nil
}

func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func action(name string, fn entryFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		opts, err := options(cmd)
		if err != nil {
			return err
		}
		if err := fn(ctx, opts...); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

func history(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.History(ctx, int(cmd.Int("limit")), opts...); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

func main() {
	rewrite := action("rewrite", internal.Rewrite)

	cmd := &cli.Command{
		Name:    "linkfix",
		Usage:   "Rewrite [[wikilinks]] in a Markdown tree into standard Markdown links",
		Version: version,
		Action:  rewrite,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Root directory of the document tree",
				Sources: cli.EnvVars("LINKFIX_ROOT"),
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "Report what would change without writing",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Number of documents processed concurrently",
			},
			&cli.StringFlag{
				Name:  "ledger",
				Usage: "Record runs in the SQLite database at this path",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "rewrite",
				Usage:  "Rewrite every document under the root once (default)",
				Action: rewrite,
			},
			{
				Name:   "watch",
				Usage:  "Rewrite the tree, then keep rewriting documents as they change",
				Action: action("watch", internal.Watch),
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and event stream, watching the tree",
				Action: action("serve", internal.Serve),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the rewrite tools over MCP stdio",
				Action: action("mcp", internal.MCP),
			},
			{
				Name:  "history",
				Usage: "List recorded runs from the ledger",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to list",
						Value: 20,
					},
				},
				Action: history,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
