package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type termStoreStub struct {
	terms map[string]*models.Term
	order []string
}

func newTermStore(terms ...models.Term) *termStoreStub {
	s := &termStoreStub{terms: map[string]*models.Term{}}
	for i := range terms {
		t := terms[i]
		s.terms[t.ID] = &t
		s.order = append(s.order, t.ID)
	}
	return s
}

func (s *termStoreStub) FindByID(_ context.Context, id string) (*models.Term, error) {
	t, ok := s.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *t
	return &clone, nil
}

func (s *termStoreStub) FindActive(ctx context.Context) (*models.Term, error) {
	active, _ := s.ListActive(ctx)
	if len(active) == 0 {
		return nil, sql.ErrNoRows
	}
	return &active[0], nil
}

// ListActive mirrors the repository ordering: latest start date first.
func (s *termStoreStub) ListActive(_ context.Context) ([]models.Term, error) {
	var out []models.Term
	for _, id := range s.order {
		if t := s.terms[id]; t.IsActive {
			out = append(out, *t)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartDate.After(out[j-1].StartDate); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *termStoreStub) Activate(_ context.Context, _ sqlx.ExtContext, id string) (int64, error) {
	if _, ok := s.terms[id]; !ok {
		return 0, sql.ErrNoRows
	}
	var n int64
	for tid, t := range s.terms {
		if tid == id {
			t.IsActive = true
			continue
		}
		if t.IsActive {
			t.IsActive = false
			n++
		}
	}
	return n, nil
}

func TestTermServiceActivate(t *testing.T) {
	db, mock := newMockDB(t)
	store := newTermStore(
		models.Term{ID: "t1", IsActive: true},
		models.Term{ID: "t2"},
	)
	cache := newMemoryCache()
	cache.items["dash:admin:all:t1:2024-01-01"] = []byte("{}")
	svc := NewTermService(db, store, NewCacheService(cache, nil, 0, nil, true), nil)
	mock.ExpectBegin()
	mock.ExpectCommit()

	term, deactivated, err := svc.Activate(context.Background(), "t2")

	require.NoError(t, err)
	assert.True(t, term.IsActive)
	assert.Equal(t, int64(1), deactivated)
	assert.False(t, store.terms["t1"].IsActive)
	assert.False(t, cache.has("dash:admin:all:t1:2024-01-01"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermServiceActivateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewTermService(db, newTermStore(), nil, nil)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, _, err := svc.Activate(context.Background(), "nope")

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermServiceActiveNone(t *testing.T) {
	svc := NewTermService(nil, newTermStore(models.Term{ID: "t1"}), nil, nil)

	_, err := svc.Active(context.Background())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestTermServiceRepairActiveKeepsLatest(t *testing.T) {
	db, mock := newMockDB(t)
	jan := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	store := newTermStore(
		models.Term{ID: "old", IsActive: true, StartDate: jan.AddDate(0, -6, 0)},
		models.Term{ID: "new", IsActive: true, StartDate: jan},
	)
	svc := NewTermService(db, store, nil, nil)
	mock.ExpectBegin()
	mock.ExpectCommit()

	kept, deactivated, err := svc.RepairActive(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "new", kept)
	assert.Equal(t, int64(1), deactivated)
	assert.False(t, store.terms["old"].IsActive)
}

func TestTermServiceRepairActiveNoop(t *testing.T) {
	svc := NewTermService(nil, newTermStore(models.Term{ID: "t1", IsActive: true}), nil, nil)

	kept, deactivated, err := svc.RepairActive(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "t1", kept)
	assert.Zero(t, deactivated)
}
