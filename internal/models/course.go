package models

import (
	"time"

	"github.com/lib/pq"
)

// Course is a subject taught by one teacher to a roster within one term.
type Course struct {
	ID                  string         `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	TermID              string         `db:"term_id" json:"term_id"`
	TeacherID           string         `db:"teacher_id" json:"teacher_id"`
	ClassID             *string        `db:"class_id" json:"class_id,omitempty"`
	SubjectID           *string        `db:"subject_id" json:"subject_id,omitempty"`
	StudentIDs          pq.StringArray `db:"student_ids" json:"student_ids"`
	AttendancePoolScore float64        `db:"attendance_pool_score" json:"attendance_pool_score"`
	Version             int            `db:"version" json:"version"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt           *time.Time     `db:"deleted_at" json:"-"`

	Schedules []Schedule `db:"-" json:"schedules"`
}

// DeletedAtTime implements SoftDeletable.
func (c *Course) DeletedAtTime() *time.Time { return c.DeletedAt }

// HasStudent reports whether the student is on the roster.
func (c *Course) HasStudent(studentID string) bool {
	for _, id := range c.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// LiveSlots returns the slots of live schedule rows in stored order.
func (c *Course) LiveSlots() []Slot {
	slots := make([]Slot, 0, len(c.Schedules))
	for i := range c.Schedules {
		if IsLive(&c.Schedules[i]) {
			slots = append(slots, c.Schedules[i].Slot())
		}
	}
	return slots
}
