package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/service"
	"github.com/noah-isme/sma-lms-api/pkg/response"
)

type studentGradeService interface {
	StudentGrades(ctx context.Context, studentID, termID string) ([]models.CourseGrade, error)
}

type intelligenceService interface {
	Profile(ctx context.Context, studentID, termID string) ([]models.IntelligenceScore, error)
}

// StudentHandler exposes per-student read models.
type StudentHandler struct {
	grades       studentGradeService
	intelligence intelligenceService
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(grades studentGradeService, intelligence intelligenceService) *StudentHandler {
	return &StudentHandler{grades: grades, intelligence: intelligence}
}

// Grades godoc
// @Summary Course grades of a student for a term
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param termId query string false "Term ID (defaults to the active term)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/grades [get]
func (h *StudentHandler) Grades(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	studentID := c.Param("id")
	if err := service.CanReadStudent(claims, studentID); err != nil {
		response.Error(c, err)
		return
	}
	grades, err := h.grades.StudentGrades(c.Request.Context(), studentID, strings.TrimSpace(c.Query("termId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, grades)
}

// Intelligence godoc
// @Summary Multiple-intelligence profile of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param termId query string false "Term ID (defaults to the active term)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/intelligence [get]
func (h *StudentHandler) Intelligence(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	studentID := c.Param("id")
	if err := service.CanReadStudent(claims, studentID); err != nil {
		response.Error(c, err)
		return
	}
	profile, err := h.intelligence.Profile(c.Request.Context(), studentID, strings.TrimSpace(c.Query("termId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}
