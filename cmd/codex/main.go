package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/arenfeld/codex/internal"
	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/kdf"
	"github.com/arenfeld/codex/internal/library"
	"github.com/arenfeld/codex/internal/mcpserver"
	"github.com/arenfeld/codex/internal/models"
	pkgconfig "github.com/arenfeld/codex/pkg/config"
)

// Exit codes beyond the generic failure code 1. Scripts can branch on these
// without parsing error text.
const (
	exitUsage          = 2
	exitAuthentication = 3
	exitNotFound       = 4
	exitConflict       = 5
	exitFormat         = 6
	exitIntegrity      = 7
)

func exitErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, apperr.ErrConfiguration):
		return cli.Exit(msg, exitUsage)
	case errors.Is(err, apperr.ErrAuthentication):
		return cli.Exit(msg, exitAuthentication)
	case errors.Is(err, apperr.ErrNotFound):
		return cli.Exit(msg, exitNotFound)
	case errors.Is(err, apperr.ErrDuplicateID), errors.Is(err, apperr.ErrAlreadyExists):
		return cli.Exit(msg, exitConflict)
	case errors.Is(err, apperr.ErrFormat):
		return cli.Exit(msg, exitFormat)
	case errors.Is(err, apperr.ErrIntegrity):
		return cli.Exit(msg, exitIntegrity)
	}
	return cli.Exit(msg, 1)
}

func storeFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "store",
		Aliases:  []string{"s"},
		Usage:    "Path to the store directory",
		Value:    "./library",
		Sources:  cli.EnvVars("CODEX_STORE"),
		Required: false,
	}
}

// readPassphrase resolves the passphrase from CODEX_PASSPHRASE, an interactive
// prompt, or piped stdin, in that order. With confirm set, an interactive
// prompt asks twice and requires both entries to match.
func readPassphrase(confirm bool) ([]byte, error) {
	if pw := os.Getenv("CODEX_PASSPHRASE"); pw != "" {
		return []byte(pw), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		if string(pw) != string(again) {
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	return pw, nil
}

func openStore(cmd *cli.Command) (*library.Store, error) {
	pw, err := readPassphrase(false)
	if err != nil {
		return nil, err
	}
	return library.Open(cmd.String("store"), pw)
}

func printItems(items []models.ItemMetadata) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tTAGS\tADDED")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Title, it.Author, strings.Join(it.Tags, ","), it.AddedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printItemJSON(item *models.ItemMetadata) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(item)
}

func createCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a new encrypted store",
		Flags: []cli.Flag{
			storeFlag(),
			&cli.IntFlag{
				Name:  "iterations",
				Usage: "PBKDF2 iteration count for key derivation",
				Value: int64(library.DefaultIterations),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			iters := int(cmd.Int("iterations"))
			if iters < kdf.MinIterations {
				return exitErr(fmt.Errorf("%w: iterations must be at least %d", apperr.ErrConfiguration, kdf.MinIterations))
			}
			pw, err := readPassphrase(true)
			if err != nil {
				return exitErr(err)
			}
			store, err := library.Create(cmd.String("store"), pw, iters)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()
			fmt.Printf("Created store at %s\n", store.Path())
			return nil
		},
	}
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a file to the store",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			storeFlag(),
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Item title", Required: true},
			&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Usage: "Item author"},
			&cli.StringSliceFlag{Name: "tag", Usage: "Item tag (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: codex add [flags] <file>", exitUsage)
			}
			payload, err := os.ReadFile(cmd.Args().First())
			if err != nil {
				return exitErr(err)
			}
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			item, err := store.Add(payload, models.ItemMetadata{
				Title:  cmd.String("title"),
				Author: cmd.String("author"),
				Tags:   cmd.StringSlice("tag"),
			})
			if err != nil {
				return exitErr(err)
			}
			return printItemJSON(item)
		},
	}
}

func getCmd() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Decrypt an item to a file",
		ArgsUsage: "<id> <out>",
		Flags:     []cli.Flag{storeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return cli.Exit("usage: codex get <id> <out>", exitUsage)
			}
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			item, err := store.Get(cmd.Args().Get(0), cmd.Args().Get(1))
			if err != nil {
				return exitErr(err)
			}
			fmt.Printf("Wrote %q to %s\n", item.Title, cmd.Args().Get(1))
			return nil
		},
	}
}

func searchCmd() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "List items matching metadata filters",
		Flags: []cli.Flag{
			storeFlag(),
			&cli.StringFlag{Name: "title", Usage: "Filter by title substring"},
			&cli.StringFlag{Name: "author", Usage: "Filter by author substring"},
			&cli.StringFlag{Name: "tag", Usage: "Filter by exact tag"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			items, err := store.Search(models.Filter{
				Title:  cmd.String("title"),
				Author: cmd.String("author"),
				Tag:    cmd.String("tag"),
			})
			if err != nil {
				return exitErr(err)
			}
			printItems(items)
			return nil
		},
	}
}

func updateCmd() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Update an item's metadata",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			storeFlag(),
			&cli.StringFlag{Name: "title", Usage: "New title", Required: true},
			&cli.StringFlag{Name: "author", Usage: "New author"},
			&cli.StringSliceFlag{Name: "tag", Usage: "New tag set (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: codex update [flags] <id>", exitUsage)
			}
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			item, err := store.Update(cmd.Args().First(), cmd.String("title"), cmd.String("author"), cmd.StringSlice("tag"))
			if err != nil {
				return exitErr(err)
			}
			return printItemJSON(item)
		},
	}
}

func deleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Remove an item from the store",
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{storeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: codex delete <id>", exitUsage)
			}
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			if err := store.Delete(cmd.Args().First()); err != nil {
				return exitErr(err)
			}
			fmt.Printf("Deleted %s\n", cmd.Args().First())
			return nil
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write an encrypted backup bundle",
		ArgsUsage: "<bundle.tar>",
		Flags:     []cli.Flag{storeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: codex export <bundle.tar>", exitUsage)
			}
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			out, err := os.Create(cmd.Args().First())
			if err != nil {
				return exitErr(err)
			}
			if err := store.Export(out); err != nil {
				out.Close()
				return exitErr(err)
			}
			if err := out.Close(); err != nil {
				return exitErr(err)
			}
			fmt.Printf("Exported bundle to %s\n", cmd.Args().First())
			return nil
		},
	}
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Restore the store from a backup bundle",
		ArgsUsage: "<bundle.tar>",
		Flags:     []cli.Flag{storeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("usage: codex import <bundle.tar>", exitUsage)
			}
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			in, err := os.Open(cmd.Args().First())
			if err != nil {
				return exitErr(err)
			}
			defer in.Close()

			if err := store.Import(in); err != nil {
				return exitErr(err)
			}
			fmt.Printf("Imported bundle from %s\n", cmd.Args().First())
			return nil
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the store over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := internal.NewDefaultConfig()
			if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
				return exitErr(fmt.Errorf("failed to parse config: %w", err))
			}

			pw, err := readPassphrase(false)
			if err != nil {
				return exitErr(err)
			}

			if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithPassphrase(pw)); err != nil {
				return exitErr(err)
			}
			return nil
		},
	}
}

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the store over MCP on stdio",
		Flags: []cli.Flag{storeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStore(cmd)
			if err != nil {
				return exitErr(err)
			}
			defer store.Close()

			if err := mcpserver.New(store).ServeStdio(); err != nil {
				return exitErr(err)
			}
			return nil
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "codex",
		Usage: "Local encrypted object store with metadata search and backup bundles",
		Commands: []*cli.Command{
			createCmd(),
			addCmd(),
			getCmd(),
			searchCmd(),
			updateCmd(),
			deleteCmd(),
			exportCmd(),
			importCmd(),
			serveCmd(),
			mcpCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
