package models

import "time"

// Class is a homeroom group of students supervised by one homeroom teacher.
type Class struct {
	ID                string     `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Grade             string     `db:"grade" json:"grade"`
	HomeroomTeacherID *string    `db:"homeroom_teacher_id" json:"homeroom_teacher_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (c *Class) DeletedAtTime() *time.Time { return c.DeletedAt }
