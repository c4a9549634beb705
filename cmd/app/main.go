package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mdlinks/internal"
	pkgconfig "github.com/starford/mdlinks/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOrDefault(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root := cmd.String("root"); root != "" {
		cfg.Graph.Root = root
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func options(cfg *internal.Config) []internal.Option {
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, options(cfg)...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.RunMCP(ctx, options(cfg)...); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}

	return nil
}

func validateGraph(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := append(options(cfg), internal.WithLogOutput(os.Stderr))
	report, err := internal.RunValidate(ctx, opts...)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("validate: write report: %w", err)
	}
	if !report.Valid {
		return errors.New("graph has integrity errors")
	}
	return nil
}

func backlinks(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: backlinks <path>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	edges, err := internal.Backlinks(ctx, cfg, cmd.Args().First())
	if err != nil {
		return err
	}
	for _, e := range edges {
		rel := ""
		if e.RelationType != nil {
			rel = string(*e.RelationType)
		}
		fmt.Printf("%s\t%s\t%s\t%d\n", e.From, e.Type, rel, e.Metadata.SourceLine)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "mdlinks",
		Usage:   "Link graph over a directory of Markdown documents",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Markdown root directory (overrides graph.root)",
				Sources: cli.EnvVars("MDLINKS_ROOT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Build the graph, watch for changes and serve the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the graph tools over MCP on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:   "validate",
				Usage:  "Rebuild the graph once and print the validation report",
				Action: validateGraph,
			},
			{
				Name:      "backlinks",
				Usage:     "List the links pointing at a file, read from the SQLite mirror",
				ArgsUsage: "<path>",
				Action:    backlinks,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
