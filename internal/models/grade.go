package models

// GradeBreakdown holds the point totals a course grade is computed from.
type GradeBreakdown struct {
	StudentPoints     float64 `json:"student_points"`
	MaxPointsPossible float64 `json:"max_points_possible"`
	ExtraCreditPoints float64 `json:"extra_credit_points"`
}

// CourseGrade is a student's standing in one course.
type CourseGrade struct {
	CourseID               string         `json:"course_id"`
	CourseName             string         `json:"course_name"`
	StudentID              string         `json:"student_id"`
	Breakdown              GradeBreakdown `json:"breakdown"`
	AttendancePercentage   int            `json:"attendance_percentage"`
	AttendancePoolScore    float64        `json:"attendance_pool_score"`
	EarnedPoolScore        float64        `json:"earned_pool_score"`
	Grade                  float64        `json:"grade"`
	GradeWithoutAttendance float64        `json:"grade_without_attendance"`
	IncludeAttendance      bool           `json:"include_attendance"`
	GradedAssignments      int            `json:"graded_assignments"`
	TotalAssignments       int            `json:"total_assignments"`
}
