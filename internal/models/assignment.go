package models

import (
	"time"

	"github.com/lib/pq"
)

// AssignmentType distinguishes hand-ins from quizzes.
type AssignmentType string

const (
	AssignmentTypeSubmission AssignmentType = "SUBMISSION"
	AssignmentTypeQuiz       AssignmentType = "QUIZ"
)

// Assignment is a gradable piece of work within a course.
type Assignment struct {
	ID                string         `db:"id" json:"id"`
	CourseID          string         `db:"course_id" json:"course_id"`
	Title             string         `db:"title" json:"title"`
	Type              AssignmentType `db:"type" json:"type"`
	MaxPoints         float64        `db:"max_points" json:"max_points"`
	IsExtraCredit     bool           `db:"is_extra_credit" json:"is_extra_credit"`
	IntelligenceTypes pq.StringArray `db:"intelligence_types" json:"intelligence_types"`
	DueDate           *time.Time     `db:"due_date" json:"due_date,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	DeletedAt         *time.Time     `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (a *Assignment) DeletedAtTime() *time.Time { return a.DeletedAt }

// Submission is a student's work for an assignment. Grade is a 0..100
// percentage of the assignment's max points once scored.
type Submission struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	Grade        *float64   `db:"grade" json:"grade,omitempty"`
	SubmittedAt  *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	GradedAt     *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"-"`
}

// DeletedAtTime implements SoftDeletable.
func (s *Submission) DeletedAtTime() *time.Time { return s.DeletedAt }

// IsGraded reports whether the submission has been scored.
func (s *Submission) IsGraded() bool { return s.Grade != nil }

// GradedSubmission is a scored submission joined with the tags needed to
// build an intelligence profile.
type GradedSubmission struct {
	SubmissionID    string         `db:"submission_id" json:"submission_id"`
	CourseID        string         `db:"course_id" json:"course_id"`
	Grade           float64        `db:"grade" json:"grade"`
	AssignmentTypes pq.StringArray `db:"assignment_types" json:"assignment_types"`
	SubjectTypes    pq.StringArray `db:"subject_types" json:"subject_types"`
	SubmittedAt     *time.Time     `db:"submitted_at" json:"submitted_at,omitempty"`
	AssignmentTitle string         `db:"assignment_title" json:"assignment_title"`
	CourseName      string         `db:"course_name" json:"course_name"`
}

// UpcomingAssignment is an assignment a student still has to hand in.
type UpcomingAssignment struct {
	AssignmentID string         `db:"assignment_id" json:"assignment_id"`
	Title        string         `db:"title" json:"title"`
	Type         AssignmentType `db:"type" json:"type"`
	CourseID     string         `db:"course_id" json:"course_id"`
	CourseName   string         `db:"course_name" json:"course_name"`
	DueDate      time.Time      `db:"due_date" json:"due_date"`
}
