package models

import "time"

// Slot is a recurring (day of week, period) class time.
type Slot struct {
	DayOfWeek int `db:"day_of_week" json:"day_of_week" validate:"min=0,max=6"`
	Period    int `db:"period" json:"period" validate:"min=1"`
}

// Schedule is a slot owned by exactly one course. Replaced schedules are
// soft-deleted.
type Schedule struct {
	ID        string     `db:"id" json:"id"`
	CourseID  string     `db:"course_id" json:"course_id"`
	DayOfWeek int        `db:"day_of_week" json:"day_of_week"`
	Period    int        `db:"period" json:"period"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (s *Schedule) DeletedAtTime() *time.Time { return s.DeletedAt }

// Slot returns the (day, period) pair of the schedule row.
func (s *Schedule) Slot() Slot {
	return Slot{DayOfWeek: s.DayOfWeek, Period: s.Period}
}

// Conflict names the other course occupying a slot.
type Conflict struct {
	CourseName string `json:"course_name"`
	DayOfWeek  int    `json:"day_of_week"`
	Period     int    `json:"period"`
}

// StudentScheduleConflict is one enrolled student whose timetable would break.
type StudentScheduleConflict struct {
	StudentID   string   `json:"student_id"`
	StudentName string   `json:"student_name"`
	Conflict    Conflict `json:"conflict"`
}
