package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/service"
	"github.com/noah-isme/sma-lms-api/pkg/response"
)

type gradingService interface {
	Course(ctx context.Context, submissionID string) (*models.Course, error)
	GradeSubmission(ctx context.Context, req service.GradeSubmissionRequest) (*models.Submission, error)
}

// SubmissionHandler lets teachers score hand-ins.
type SubmissionHandler struct {
	grading gradingService
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(grading gradingService) *SubmissionHandler {
	return &SubmissionHandler{grading: grading}
}

// Grade godoc
// @Summary Grade a submission (0-100)
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/grade [put]
func (h *SubmissionHandler) Grade(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.GradeSubmissionRequest
	if !bindJSON(c, &req) {
		return
	}
	req.SubmissionID = c.Param("id")

	course, err := h.grading.Course(c.Request.Context(), req.SubmissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := service.CanManageCourse(claims, course); err != nil {
		response.Error(c, err)
		return
	}
	submission, err := h.grading.GradeSubmission(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, submission)
}
