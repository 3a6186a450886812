package models

import "time"

// TermType distinguishes the two halves of an academic year.
type TermType string

const (
	TermTypeOdd  TermType = "ODD"
	TermTypeEven TermType = "EVEN"
)

// Term models a semester within an academic year. At most one term is active.
type Term struct {
	ID             string     `db:"id" json:"id"`
	AcademicYearID string     `db:"academic_year_id" json:"academic_year_id"`
	Name           string     `db:"name" json:"name"`
	Type           TermType   `db:"type" json:"type"`
	StartDate      time.Time  `db:"start_date" json:"start_date"`
	EndDate        time.Time  `db:"end_date" json:"end_date"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (t *Term) DeletedAtTime() *time.Time { return t.DeletedAt }
