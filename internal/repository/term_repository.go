package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

const termColumns = `id, academic_year_id, name, type, start_date, end_date, is_active, created_at, updated_at, deleted_at`

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// FindByID loads a live term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE id = $1 AND %s`, termColumns, liveClause(""))
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindActive returns the active term. When the invariant has been broken the
// most recently started term wins.
func (r *TermRepository) FindActive(ctx context.Context) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE is_active = TRUE AND %s ORDER BY start_date DESC LIMIT 1`, termColumns, liveClause(""))
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListActive returns every term flagged active, newest first.
func (r *TermRepository) ListActive(ctx context.Context) ([]models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE is_active = TRUE AND %s ORDER BY start_date DESC, id`, termColumns, liveClause(""))
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query); err != nil {
		return nil, fmt.Errorf("list active terms: %w", err)
	}
	return terms, nil
}

// Activate flags id as the only active term. The caller owns the transaction.
func (r *TermRepository) Activate(ctx context.Context, tx sqlx.ExtContext, id string) (int64, error) {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('terms:active'))`); err != nil {
		return 0, fmt.Errorf("lock active term: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE terms SET is_active = FALSE, updated_at = $2 WHERE is_active = TRUE AND id <> $1`, id, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate other terms: %w", err)
	}
	deactivated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate other terms rows: %w", err)
	}
	query := fmt.Sprintf(`UPDATE terms SET is_active = TRUE, updated_at = $2 WHERE id = $1 AND %s`, liveClause(""))
	res, err = tx.ExecContext(ctx, query, id, now)
	if err != nil {
		return 0, fmt.Errorf("activate term: %w", err)
	}
	activated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("activate term rows: %w", err)
	}
	if activated == 0 {
		return 0, sql.ErrNoRows
	}
	return deactivated, nil
}
