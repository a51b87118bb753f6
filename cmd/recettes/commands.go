package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/0xReLogic/recettes/internal/config"
	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/mealdb"
	"github.com/0xReLogic/recettes/internal/server"
)

const (
	name              = "recettes"
	defaultConfigFile = "recettes.yaml"
)

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
)

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:                  name,
		Version:               fmt.Sprintf("%s (%s)", version, commit),
		EnableShellCompletion: true,
		Usage:                 "Recipe search over TheMealDB",
		Description: `Serves the recettes web page and JSON API, or runs a single recipe
query and prints the matching meals as JSON. Without a command it serves.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigFile,
				Usage:   "config file, defaults apply when it does not exist",
				Sources: cli.EnvVars("RECETTES_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (trace, debug, info, warn, error), overrides the config file",
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "recipe API base URL, overrides the config file",
				Sources: cli.EnvVars("RECETTES_MEALDB_URL"),
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			searchCmd(out, "letter", "LETTER", "List meals whose name starts with a letter",
				func(ctx context.Context, c *mealdb.Client, arg string) ([]mealdb.Meal, error) {
					letter, ok := mealdb.NormalizeLetter(arg)
					if !ok {
						return nil, fmt.Errorf("invalid letter %q: expected a single letter a-z", arg)
					}
					return c.ByLetter(ctx, letter), nil
				}),
			searchCmd(out, "search", "QUERY", "Search meals by name",
				func(ctx context.Context, c *mealdb.Client, arg string) ([]mealdb.Meal, error) {
					return c.ByName(ctx, arg), nil
				}),
			searchCmd(out, "ingredient", "INGREDIENT", "List meals using an ingredient",
				func(ctx context.Context, c *mealdb.Client, arg string) ([]mealdb.Meal, error) {
					return c.ByIngredient(ctx, arg), nil
				}),
			searchCmd(out, "country", "COUNTRY", "List meals of a cuisine, e.g. Canadian",
				func(ctx context.Context, c *mealdb.Client, arg string) ([]mealdb.Meal, error) {
					return c.ByCountry(ctx, arg), nil
				}),
			searchCmd(out, "combined", "QUERY", "Search by name, ingredient and country, merged by meal id",
				func(ctx context.Context, c *mealdb.Client, arg string) ([]mealdb.Meal, error) {
					return c.CombinedSearch(ctx, arg), nil
				}),
			lookupCmd(out),
			allCmd(out),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, cmd, 0, "")
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the web page and the JSON API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "port to listen on, the next ports are tried while it is in use",
			},
			&cli.StringFlag{
				Name:  "static",
				Usage: "directory holding index.html and its assets",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, cmd, int(cmd.Int("port")), cmd.String("static"))
		},
	}
}

func serve(ctx context.Context, cmd *cli.Command, port int, static string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if static != "" {
		cfg.Server.StaticDir = static
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

type searchFunc func(ctx context.Context, c *mealdb.Client, arg string) ([]mealdb.Meal, error)

func searchCmd(out io.Writer, cmdName, argName, usage string, fn searchFunc) *cli.Command {
	return &cli.Command{
		Name:      cmdName,
		Usage:     usage,
		ArgsUsage: argName,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			arg, err := singleArg(cmd, argName)
			if err != nil {
				return err
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			meals, err := fn(ctx, client, arg)
			if err != nil {
				return err
			}
			return writeJSON(out, meals)
		},
	}
}

func lookupCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Print a single meal by id",
		ArgsUsage: "ID",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := singleArg(cmd, "ID")
			if err != nil {
				return err
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			meal, ok := client.ByID(ctx, id)
			if !ok {
				return fmt.Errorf("meal %s not found", id)
			}
			return writeJSON(out, meal)
		},
	}
}

func allCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "all",
		Usage: "List every meal, letter by letter from a to z",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			return writeJSON(out, client.FetchAllLetters(ctx))
		},
	}
}

func singleArg(cmd *cli.Command, argName string) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("%s expects exactly one %s argument", cmd.Name, argName)
	}
	arg := strings.TrimSpace(cmd.Args().First())
	if arg == "" {
		return "", fmt.Errorf("%s must not be empty", argName)
	}
	return arg, nil
}

// loadConfig reads the config file and applies the global flag overrides,
// then configures logging
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if u := cmd.String("base-url"); u != "" {
		cfg.MealDB.BaseURL = u
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Init(cfg.Logging)
	logging.L().Debug().
		Str("name", name).
		Str("version", version).
		Str("commit", commit).
		Str("upstream", cfg.MealDB.BaseURL).
		Msg("starting")
	return cfg, nil
}

func newClient(cmd *cli.Command) (*mealdb.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	client, _, err := server.NewClient(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe client: %w", err)
	}
	return client, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	if meals, ok := v.([]mealdb.Meal); ok && meals == nil {
		v = []mealdb.Meal{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
