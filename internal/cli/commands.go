package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hemiciclo/internal/gaps"
	"github.com/ashita-ai/hemiciclo/internal/ingest"
	"github.com/ashita-ai/hemiciclo/internal/matcher"
	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/positions"
	"github.com/ashita-ai/hemiciclo/internal/review"
	"github.com/ashita-ai/hemiciclo/internal/stance"
	"github.com/ashita-ai/hemiciclo/internal/storage"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.open(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			applied, err := db.Migrate(ctx)
			if err != nil {
				return err
			}
			if applied == nil {
				applied = []string{}
			}
			return a.emit(cmd, map[string]any{"dialect": db.Dialect().String(), "applied": applied})
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.json|->",
		Short: "Import a normalized JSON bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readBundle(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				return ingest.New(db, a.env.Logger).Import(ctx, b, a.flags.dryRun)
			})
		},
	}
}

func readBundle(path string, stdin io.Reader) (ingest.Bundle, error) {
	if path == "-" {
		return ingest.Decode(stdin)
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if errors.Is(err, os.ErrNotExist) {
		return ingest.Bundle{}, fmt.Errorf("%w: %s", errInputMissing, path)
	}
	if err != nil {
		return ingest.Bundle{}, fmt.Errorf("cli: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ingest.Decode(f)
}

func (a *app) newQueue(db *storage.DB) (*review.Queue, error) {
	set, err := a.rules()
	if err != nil {
		return nil, err
	}
	c, err := stance.New(set.Stance)
	if err != nil {
		return nil, err
	}
	return review.New(db, c, a.env.Logger, a.env.Config.SampleSize), nil
}

func (a *app) reclassifyCmd() *cobra.Command {
	var p review.Params
	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "Classify declared evidence and queue uncertain rows for review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				q, err := a.newQueue(db)
				if err != nil {
					return nil, err
				}
				p.DryRun = a.flags.dryRun
				return q.Reclassify(ctx, p)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.SourceID, "source", "", "only rows from this source id")
	f.StringVar(&p.TopicSetID, "topic-set", "", "only rows in this topic set")
	f.IntVar(&p.Limit, "limit", 0, "maximum rows to scan (0 = all)")
	f.Float64Var(&p.Threshold, "threshold", a.env.Config.ReviewThreshold, "auto-accept confidence threshold")
	return cmd
}

func (a *app) reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and decide the review queue",
	}

	var (
		listStatus string
		listLimit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List review queue entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				q, err := a.newQueue(db)
				if err != nil {
					return nil, err
				}
				return q.List(ctx, listStatus, listLimit)
			})
		},
	}
	list.Flags().StringVar(&listStatus, "status", "pending", "pending, resolved, ignored or empty for all")
	list.Flags().IntVar(&listLimit, "limit", 50, "maximum entries (0 = all)")

	var (
		ids        []int64
		status     string
		finalStnc  string
		confidence float64
		note       string
	)
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply a review decision to evidence rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := model.ParseReviewStatus(status)
			if err != nil {
				return err
			}
			d := review.Decision{EvidenceIDs: ids, Status: st, Note: note, DryRun: a.flags.dryRun}
			if finalStnc != "" {
				s, err := model.ParseStance(finalStnc)
				if err != nil {
					return err
				}
				d.FinalStance = &s
			}
			if cmd.Flags().Changed("confidence") {
				d.FinalConfidence = &confidence
			}
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				q, err := a.newQueue(db)
				if err != nil {
					return nil, err
				}
				return q.ApplyDecision(ctx, d)
			})
		},
	}
	af := apply.Flags()
	af.Int64SliceVar(&ids, "ids", nil, "evidence ids (CSV)")
	af.StringVar(&status, "status", "", "resolved, ignored or pending")
	af.StringVar(&finalStnc, "stance", "", "final stance (resolved only)")
	af.Float64Var(&confidence, "confidence", 0, "final confidence (resolved only)")
	af.StringVar(&note, "note", "", "reviewer note")
	_ = apply.MarkFlagRequired("ids")
	_ = apply.MarkFlagRequired("status")

	cmd.AddCommand(list, apply)
	return cmd
}

func (a *app) positionsCmd() *cobra.Command {
	var scope positions.Scope
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Recompute person-topic positions for one scope",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&scope.AsOfDate, "as-of", "", "as-of date, YYYY-MM-DD")
	pf.StringVar(&scope.Version, "version", a.env.Config.ComputedVersion, "computed version")
	pf.StringVar(&scope.SourceID, "source", "", "only evidence from this source id")
	_ = cmd.MarkPersistentFlagRequired("as-of")

	type backfill func(*positions.Aggregator, context.Context, positions.Scope) (positions.Summary, error)
	sub := func(use, short string, run backfill) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
					set, err := a.rules()
					if err != nil {
						return nil, err
					}
					agg := positions.New(db, set.Aggregate, a.env.Logger, a.env.Config.SampleSize)
					s := scope
					s.DryRun = a.flags.dryRun
					return run(agg, ctx, s)
				})
			},
		}
	}
	cmd.AddCommand(
		sub("declared", "Aggregate declared evidence", (*positions.Aggregator).BackfillDeclared),
		sub("votes", "Aggregate vote-derived evidence per mandate", (*positions.Aggregator).BackfillVotes),
		sub("combined", "Select one position per key, votes first", (*positions.Aggregator).BackfillCombined),
	)
	return cmd
}

func (a *app) newMatcher(db *storage.DB) (*matcher.Matcher, error) {
	set, err := a.rules()
	if err != nil {
		return nil, err
	}
	return matcher.New(db, set.Matching, a.env.Logger, a.env.Config.SampleSize)
}

func (a *app) matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Link responsibilities to votes and enforcement statistics",
	}

	var (
		voteRoles   string
		limitEvents int
	)
	votes := &cobra.Command{
		Use:   "votes",
		Short: "Match vote events to norm responsibilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles, err := parseRoles(voteRoles)
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				m, err := a.newMatcher(db)
				if err != nil {
					return nil, err
				}
				return m.MatchVotes(ctx, matcher.VoteParams{Roles: roles, LimitEvents: limitEvents, DryRun: a.flags.dryRun})
			})
		},
	}
	votes.Flags().StringVar(&voteRoles, "roles", string(model.RoleApprove), "responsibility roles (CSV)")
	votes.Flags().IntVar(&limitEvents, "limit-events", 0, "maximum vote events (0 = all, enables stale pruning)")

	var (
		execRoles string
		execLimit int
	)
	execution := &cobra.Command{
		Use:   "execution",
		Short: "Bridge sanction volume observations to responsibilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles, err := parseRoles(execRoles)
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				m, err := a.newMatcher(db)
				if err != nil {
					return nil, err
				}
				return m.BridgeExecution(ctx, matcher.ExecutionParams{Roles: roles, Limit: execLimit, DryRun: a.flags.dryRun})
			})
		},
	}
	execution.Flags().StringVar(&execRoles, "roles", string(model.RoleDelegate), "responsibility roles (CSV)")
	execution.Flags().IntVar(&execLimit, "limit", 0, "maximum observations (0 = all, enables stale pruning)")

	cmd.AddCommand(votes, execution)
	return cmd
}

func (a *app) gapsCmd() *cobra.Command {
	var (
		roleCSV string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Explain why responsibilities have no vote evidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles, err := model.ParseRoles(roleCSV)
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *storage.DB) (any, error) {
				set, err := a.rules()
				if err != nil {
					return nil, err
				}
				return gaps.New(db, set.Matching, a.env.Logger).Diagnose(ctx, gaps.Params{Roles: roles, Limit: limit})
			})
		},
	}
	cmd.Flags().StringVar(&roleCSV, "roles", string(model.RoleApprove), "responsibility roles (CSV)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum gaps listed (0 = all)")
	return cmd
}
