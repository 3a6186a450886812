package dto

import (
	"time"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

// AttendancePulse is present over total marks for some scope.
type AttendancePulse struct {
	Present    int `json:"present"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// TodayClass is one period a user has class today.
type TodayClass struct {
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	Period     int    `json:"period"`
}

// AdminCounts are school wide headcounts.
type AdminCounts struct {
	Students int `json:"students"`
	Teachers int `json:"teachers"`
	Courses  int `json:"courses"`
}

// AdminDashboardResponse is the admin overview for a term and day.
type AdminDashboardResponse struct {
	TermID               string                     `json:"termId"`
	Date                 string                     `json:"date"`
	Counts               AdminCounts                `json:"counts"`
	AttendanceToday      AttendancePulse            `json:"attendanceToday"`
	RecentSubmissions    int                        `json:"recentSubmissions"`
	IntelligenceAverages []models.IntelligenceScore `json:"intelligenceAverages"`
	GeneratedAt          time.Time                  `json:"generatedAt"`
}

// CourseAttendance is today's attendance pulse of one course.
type CourseAttendance struct {
	CourseID   string          `json:"courseId"`
	CourseName string          `json:"courseName"`
	Pulse      AttendancePulse `json:"pulse"`
}

// TeacherDashboardResponse is a teacher's day at a glance.
type TeacherDashboardResponse struct {
	TeacherID        string             `json:"teacherId"`
	TermID           string             `json:"termId"`
	Date             string             `json:"date"`
	TodayClasses     []TodayClass       `json:"todayClasses"`
	PendingGrading   int                `json:"pendingGrading"`
	CourseAttendance []CourseAttendance `json:"courseAttendance"`
	GeneratedAt      time.Time          `json:"generatedAt"`
}

// RecentGrade is a recently scored submission.
type RecentGrade struct {
	SubmissionID    string  `json:"submissionId"`
	AssignmentTitle string  `json:"assignmentTitle"`
	CourseName      string  `json:"courseName"`
	Grade           float64 `json:"grade"`
}

// StudentDashboardResponse is a student's day, deadlines and standing.
type StudentDashboardResponse struct {
	StudentID         string                      `json:"studentId"`
	TermID            string                      `json:"termId"`
	Date              string                      `json:"date"`
	TodayClasses      []TodayClass                `json:"todayClasses"`
	UpcomingDeadlines []models.UpcomingAssignment `json:"upcomingDeadlines"`
	RecentGrades      []RecentGrade               `json:"recentGrades"`
	CourseGrades      []models.CourseGrade        `json:"courseGrades"`
	Intelligence      []models.IntelligenceScore  `json:"intelligence"`
	GeneratedAt       time.Time                   `json:"generatedAt"`
}

// HomeroomStudent summarises one student of a homeroom class.
type HomeroomStudent struct {
	StudentID            string   `json:"studentId"`
	Name                 string   `json:"name"`
	AttendancePercentage int      `json:"attendancePercentage"`
	AverageGrade         *float64 `json:"averageGrade,omitempty"`
	LowAttendance        bool     `json:"lowAttendance"`
}

// HomeroomDashboardResponse covers a homeroom teacher's class.
type HomeroomDashboardResponse struct {
	ClassID             string            `json:"classId"`
	ClassName           string            `json:"className"`
	TermID              string            `json:"termId"`
	Threshold           int               `json:"lowAttendanceThreshold"`
	Students            []HomeroomStudent `json:"students"`
	LowAttendanceAlerts []HomeroomStudent `json:"lowAttendanceAlerts"`
	GeneratedAt         time.Time         `json:"generatedAt"`
}
