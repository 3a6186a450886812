package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type termRepository interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
	ListActive(ctx context.Context) ([]models.Term, error)
	Activate(ctx context.Context, tx sqlx.ExtContext, id string) (int64, error)
}

// TermService keeps exactly one academic term active.
type TermService struct {
	db     txProvider
	repo   termRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewTermService creates a new term service instance.
func NewTermService(db txProvider, repo termRepository, cache *CacheService, logger *zap.Logger) *TermService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{db: db, repo: repo, cache: cache, logger: logger}
}

// Active returns the active term.
func (s *TermService) Active(ctx context.Context) (*models.Term, error) {
	term, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}
	return term, nil
}

// Activate makes termID the only active term and reports how many others
// were switched off.
func (s *TermService) Activate(ctx context.Context, termID string) (term *models.Term, deactivated int64, err error) {
	if termID == "" {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	deactivated, err = s.repo.Activate(ctx, tx, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate term")
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit term activation")
	}

	s.cache.Invalidate(ctx, dashboardPrefix+"*")
	s.logger.Info("term activated", zap.String("term_id", termID), zap.Int64("deactivated", deactivated))

	term, err = s.repo.FindByID(ctx, termID)
	if err != nil {
		return nil, deactivated, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload term")
	}
	return term, deactivated, nil
}

// RepairActive resolves several active terms down to one. keep wins when
// given, otherwise the most recently started active term stays.
func (s *TermService) RepairActive(ctx context.Context, keep string) (string, int64, error) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return "", 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active terms")
	}
	if keep == "" {
		if len(active) == 0 {
			return "", 0, nil
		}
		keep = active[0].ID
	}
	if len(active) == 1 && active[0].ID == keep {
		return keep, 0, nil
	}
	_, deactivated, err := s.Activate(ctx, keep)
	if err != nil {
		return "", 0, err
	}
	return keep, deactivated, nil
}
