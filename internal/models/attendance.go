package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceSick    AttendanceStatus = "SICK"
	AttendanceExcused AttendanceStatus = "EXCUSED"
	AttendanceLate    AttendanceStatus = "LATE"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceSick, AttendanceExcused, AttendanceLate:
		return true
	default:
		return false
	}
}

// Attendance is one student's presence record for one course meeting.
type Attendance struct {
	ID        string           `db:"id" json:"id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	DeletedAt *time.Time       `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (a *Attendance) DeletedAtTime() *time.Time { return a.DeletedAt }

// AttendanceTally counts present records against all live records.
type AttendanceTally struct {
	CourseID  string `db:"course_id" json:"course_id"`
	StudentID string `db:"student_id" json:"student_id,omitempty"`
	Present   int    `db:"present" json:"present"`
	Total     int    `db:"total" json:"total"`
}
