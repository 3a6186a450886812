package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	"github.com/noah-isme/sma-lms-api/internal/service"
	"github.com/noah-isme/sma-lms-api/pkg/config"
	"github.com/noah-isme/sma-lms-api/pkg/database"
	"github.com/noah-isme/sma-lms-api/pkg/logger"
)

type termRepairer interface {
	RepairActive(ctx context.Context, keep string) (string, int64, error)
}

type termAuditor interface {
	AuditTerm(ctx context.Context, termID string) ([]service.TermCollision, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type tokenIssuer interface {
	IssueToken(user models.User, ttl time.Duration) (string, time.Time, error)
}

// deps is opened lazily so --help works without a database.
type deps struct {
	terms   termRepairer
	audit   termAuditor
	users   userFinder
	tokens  tokenIssuer
	closeFn func()
}

type depsLoader func(ctx context.Context) (*deps, error)

func newRootCmd() *cobra.Command {
	return newRootCmdWith(loadDeps)
}

func newRootCmdWith(load depsLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "lmsctl",
		Short:         "Maintenance tasks for the SMA LMS database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration("timeout", 2*time.Minute, "overall deadline for the command")
	root.AddCommand(newTermsCmd(load), newSchedulesCmd(load), newTokenCmd(load))
	return root
}

func newTermsCmd(load depsLoader) *cobra.Command {
	terms := &cobra.Command{Use: "terms", Short: "Term maintenance"}

	var keep string
	repair := &cobra.Command{
		Use:   "repair-active",
		Short: "Leave exactly one active term",
		Long:  "Deactivates every active term but one. Without --keep the most recently started active term stays.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, load, func(ctx context.Context, d *deps) error {
				kept, deactivated, err := d.terms.RepairActive(ctx, keep)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if kept == "" {
					fmt.Fprintln(out, "no active term")
					return nil
				}
				fmt.Fprintf(out, "active term: %s (deactivated %d)\n", kept, deactivated)
				return nil
			})
		},
	}
	repair.Flags().StringVar(&keep, "keep", "", "term id to keep active")
	terms.AddCommand(repair)
	return terms
}

func newSchedulesCmd(load depsLoader) *cobra.Command {
	schedules := &cobra.Command{Use: "schedules", Short: "Timetable maintenance"}

	var termID string
	var asJSON bool
	audit := &cobra.Command{
		Use:   "audit",
		Short: "List students already double-booked in a term",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, load, func(ctx context.Context, d *deps) error {
				collisions, err := d.audit.AuditTerm(ctx, termID)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(collisions)
				}
				return writeCollisions(cmd.OutOrStdout(), collisions)
			})
		},
	}
	audit.Flags().StringVar(&termID, "term", "", "term id to audit")
	audit.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	_ = audit.MarkFlagRequired("term")
	schedules.AddCommand(audit)
	return schedules
}

func newTokenCmd(load depsLoader) *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "Access tokens for local testing"}

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Sign an access token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, load, func(ctx context.Context, d *deps) error {
				user, err := d.users.FindByID(ctx, args[0])
				if err != nil {
					return fmt.Errorf("load user %s: %w", args[0], err)
				}
				signed, expires, err := d.tokens.IssueToken(*user, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), signed)
				fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
				return nil
			})
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	token.AddCommand(issue)
	return token
}

func writeCollisions(w io.Writer, collisions []service.TermCollision) error {
	if len(collisions) == 0 {
		_, err := fmt.Fprintln(w, "no collisions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDENT\tCOURSE\tCLASHES WITH\tDAY\tPERIOD")
	for _, c := range collisions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", c.StudentID, c.CourseName, c.Conflict.CourseName, c.Conflict.DayOfWeek, c.Conflict.Period)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d collision(s)\n", len(collisions))
	return err
}

func withDeps(cmd *cobra.Command, load depsLoader, run func(ctx context.Context, d *deps) error) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	d, err := load(ctx)
	if err != nil {
		return err
	}
	if d.closeFn != nil {
		defer d.closeFn()
	}
	return run(ctx, d)
}

func loadDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return buildDeps(cfg, db, logr), nil
}

func buildDeps(cfg *config.Config, db *sqlx.DB, logr *zap.Logger) *deps {
	users := repository.NewUserRepository(db)
	return &deps{
		terms:  service.NewTermService(db, repository.NewTermRepository(db), nil, logr),
		audit:  service.NewScheduleAuditor(repository.NewCourseRepository(db), logr),
		users:  users,
		tokens: service.NewAuthService(logr, service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}),
		closeFn: func() {
			_ = db.Close()
			_ = logr.Sync()
		},
	}
}
