package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/service"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
	"github.com/noah-isme/sma-lms-api/pkg/response"
)

type courseAccess interface {
	ManageCourse(ctx context.Context, claims *models.JWTClaims, courseID string) (*models.Course, error)
	ActOnStudent(ctx context.Context, claims *models.JWTClaims, courseID, studentID string) (*models.Course, error)
	ReadCourseStudent(ctx context.Context, claims *models.JWTClaims, courseID, studentID string) (*models.Course, error)
}

type conflictChecker interface {
	CheckStudentScheduleConflict(ctx context.Context, studentID, courseID string) (*models.Conflict, error)
}

type enrollmentService interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (*models.Course, error)
	Unenroll(ctx context.Context, courseID, studentID string) error
}

type courseScheduleService interface {
	Preview(ctx context.Context, courseID string, slots []models.Slot) ([]models.StudentScheduleConflict, error)
	Replace(ctx context.Context, req service.ReplaceScheduleRequest) (*models.Course, error)
}

type courseGradeService interface {
	CourseGrade(ctx context.Context, courseID, studentID string, includeAttendance bool) (*models.CourseGrade, error)
}

type courseAttendanceService interface {
	Record(ctx context.Context, req service.RecordAttendanceRequest) (int, error)
}

// CourseHandler serves the routes nested under /courses/:id.
type CourseHandler struct {
	access     courseAccess
	conflicts  conflictChecker
	enrollment enrollmentService
	schedules  courseScheduleService
	grades     courseGradeService
	attendance courseAttendanceService
}

// CourseHandlerDeps groups the services CourseHandler delegates to.
type CourseHandlerDeps struct {
	Access     courseAccess
	Conflicts  conflictChecker
	Enrollment enrollmentService
	Schedules  courseScheduleService
	Grades     courseGradeService
	Attendance courseAttendanceService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(deps CourseHandlerDeps) *CourseHandler {
	return &CourseHandler{
		access:     deps.Access,
		conflicts:  deps.Conflicts,
		enrollment: deps.Enrollment,
		schedules:  deps.Schedules,
		grades:     deps.Grades,
		attendance: deps.Attendance,
	}
}

type slotsPayload struct {
	Slots []models.Slot `json:"slots"`
}

type conflictResponse struct {
	Conflict *models.Conflict `json:"conflict"`
}

// Conflicts godoc
// @Summary Check whether a student can join a course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/conflicts [get]
func (h *CourseHandler) Conflicts(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	studentID := strings.TrimSpace(c.Query("studentId"))
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "studentId is required"))
		return
	}
	if _, err := h.access.ActOnStudent(c.Request.Context(), claims, c.Param("id"), studentID); err != nil {
		response.Error(c, err)
		return
	}
	conflict, err := h.conflicts.CheckStudentScheduleConflict(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, conflictResponse{Conflict: conflict})
}

// PreviewSchedule godoc
// @Summary Preview the students a new timetable would clash for
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/schedules/preview [post]
func (h *CourseHandler) PreviewSchedule(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var payload slotsPayload
	if !bindJSON(c, &payload) {
		return
	}
	if _, err := h.access.ManageCourse(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	conflicts, err := h.schedules.Preview(c.Request.Context(), c.Param("id"), payload.Slots)
	if err != nil {
		response.Error(c, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.StudentScheduleConflict{}
	}
	response.OK(c, conflicts)
}

// ReplaceSchedule godoc
// @Summary Replace a course's weekly timetable
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/schedules [put]
func (h *CourseHandler) ReplaceSchedule(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.ReplaceScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CourseID = c.Param("id")
	if _, err := h.access.ManageCourse(c.Request.Context(), claims, req.CourseID); err != nil {
		response.Error(c, err)
		return
	}
	course, err := h.schedules.Replace(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, course)
}

// Enroll godoc
// @Summary Enroll a student in a course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/enrollments [post]
func (h *CourseHandler) Enroll(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.EnrollRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CourseID = c.Param("id")
	if _, err := h.access.ActOnStudent(c.Request.Context(), claims, req.CourseID, req.StudentID); err != nil {
		response.Error(c, err)
		return
	}
	course, err := h.enrollment.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Unenroll godoc
// @Summary Remove a student from a course
// @Tags Courses
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /courses/{id}/enrollments/{studentId} [delete]
func (h *CourseHandler) Unenroll(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if _, err := h.access.ManageCourse(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.enrollment.Unenroll(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Grade godoc
// @Summary A student's grade in a course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Param includeAttendance query bool false "Add the attendance pool (default true)"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/grades/{studentId} [get]
func (h *CourseHandler) Grade(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	includeAttendance, ok := boolQuery(c, "includeAttendance", true)
	if !ok {
		return
	}
	courseID, studentID := c.Param("id"), c.Param("studentId")
	if _, err := h.access.ReadCourseStudent(c.Request.Context(), claims, courseID, studentID); err != nil {
		response.Error(c, err)
		return
	}
	grade, err := h.grades.CourseGrade(c.Request.Context(), courseID, studentID, includeAttendance)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, grade)
}

// RecordAttendance godoc
// @Summary Record attendance for one meeting of a course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/attendance [post]
func (h *CourseHandler) RecordAttendance(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.RecordAttendanceRequest
	if !bindJSON(c, &req) {
		return
	}
	req.CourseID = c.Param("id")
	if _, err := h.access.ManageCourse(c.Request.Context(), claims, req.CourseID); err != nil {
		response.Error(c, err)
		return
	}
	recorded, err := h.attendance.Record(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"recorded": recorded}, nil)
}
