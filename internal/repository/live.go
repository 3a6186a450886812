package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
)

// ErrStaleVersion is returned when an optimistic update finds the row
// changed since it was read.
var ErrStaleVersion = errors.New("stale version")

// liveClause is the soft-delete predicate every read applies.
func liveClause(alias string) string {
	if alias == "" {
		return "deleted_at IS NULL"
	}
	return alias + ".deleted_at IS NULL"
}

func pick(db *sqlx.DB, exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return db
}

// LockKeys takes transaction scoped advisory locks on each key. Keys are
// de-duplicated and sorted so concurrent callers acquire them in the same
// order.
func LockKeys(ctx context.Context, tx sqlx.ExtContext, keys []string) error {
	if tx == nil {
		return fmt.Errorf("advisory locks require a transaction")
	}
	unique := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := unique[key]; ok || key == "" {
			continue
		}
		unique[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)
	for _, key := range ordered {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
	}
	return nil
}

// StudentTermKey names the lock serialising timetable writes for a student.
func StudentTermKey(studentID, termID string) string {
	return "timetable:" + termID + ":" + studentID
}
