// Package cli wires the backfill components into the hemiciclo command line.
//
// Every command prints one JSON document (a summary or an error object) on
// stdout. Logs go to stderr so stdout can be piped straight into jq.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hemiciclo/internal/config"
	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/storage"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitMissing = 2
)

// errInputMissing marks an input file that does not exist.
var errInputMissing = errors.New("input file missing")

// Env is what every command needs from the process.
type Env struct {
	Config  config.Config
	Logger  *slog.Logger
	Version string
	Stdout  io.Writer
}

// globals holds the persistent flags shared by all subcommands.
type globals struct {
	db     string
	dryRun bool
	out    string
}

type app struct {
	env   Env
	flags globals
}

// NewRootCommand builds the command tree.
func NewRootCommand(env Env) *cobra.Command {
	a := &app{env: env}
	root := &cobra.Command{
		Use:   "hemiciclo",
		Short: "Evidence-to-claim reconciliation for Spanish political and legislative data",
		Long: `hemiciclo reconciles ingested political and legislative records into
typed conclusions: stance classifications, person-topic positions and
responsibility evidence linking legal norms to votes and enforcement.

Every backfill is idempotent and supports --dry-run.`,
		Version:       env.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.SetOut(env.Stdout)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.db, "db", env.Config.DatabaseURL, "SQLite path or postgres:// URL")
	pf.BoolVar(&a.flags.dryRun, "dry-run", false, "compute and report without writing")
	pf.StringVar(&a.flags.out, "out", "", "write the JSON summary to this file instead of stdout")

	root.AddCommand(
		a.migrateCmd(),
		a.importCmd(),
		a.reclassifyCmd(),
		a.reviewCmd(),
		a.positionsCmd(),
		a.matchCmd(),
		a.gapsCmd(),
	)
	return root
}

// Run executes args and maps the outcome to an exit code. Missing inputs
// produce a JSON error object on stdout and exit 2.
func Run(ctx context.Context, env Env, args []string) int {
	root := NewRootCommand(env)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, storage.ErrDatabaseMissing), errors.Is(err, errInputMissing):
		writeError(env.Stdout, err)
		return ExitMissing
	default:
		env.Logger.Error("hemiciclo: command failed", "error", err)
		return ExitFailure
	}
}

func writeError(w io.Writer, err error) {
	kind := "input_missing"
	if errors.Is(err, storage.ErrDatabaseMissing) {
		kind = "database_missing"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": kind})
}

// open connects to the configured store. Only migrate may create a missing
// SQLite file.
func (a *app) open(ctx context.Context, create bool) (*storage.DB, error) {
	return storage.Open(ctx, a.flags.db, a.env.Logger, storage.Options{Create: create})
}

func (a *app) rules() (rules.Set, error) {
	return rules.Load(a.env.Config.RulesPath)
}

// withDB opens the store, runs fn and closes the store again.
func (a *app) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *storage.DB) (any, error)) error {
	ctx := cmd.Context()
	db, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	out, err := fn(ctx, db)
	if err != nil {
		return err
	}
	return a.emit(cmd, out)
}

// emit writes v as indented JSON to --out or stdout.
func (a *app) emit(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: encode summary: %w", err)
	}
	data = append(data, '\n')
	if a.flags.out == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(a.flags.out, data, 0o644); err != nil { //nolint:gosec // summaries are not secret
		return fmt.Errorf("cli: write %s: %w", a.flags.out, err)
	}
	return nil
}

func parseRoles(csv string) ([]model.Role, error) {
	if csv == "" {
		return nil, nil
	}
	return model.ParseRoles(csv)
}
