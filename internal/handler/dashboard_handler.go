package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lms-api/internal/dto"
	"github.com/noah-isme/sma-lms-api/internal/middleware"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
	"github.com/noah-isme/sma-lms-api/pkg/response"
)

type dashboardService interface {
	Admin(ctx context.Context, termID string) (*dto.AdminDashboardResponse, bool, error)
	Teacher(ctx context.Context, teacherID, termID string) (*dto.TeacherDashboardResponse, bool, error)
	Student(ctx context.Context, studentID, termID string) (*dto.StudentDashboardResponse, bool, error)
	Homeroom(ctx context.Context, teacherID, termID string) (*dto.HomeroomDashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Admin godoc
// @Summary Admin dashboard summary
// @Tags Dashboard
// @Produce json
// @Param termId query string false "Term ID (defaults to the active term)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/admin [get]
func (h *DashboardHandler) Admin(c *gin.Context) {
	h.serve(c, func(ctx context.Context, _ string, termID string) (interface{}, bool, error) {
		return h.service.Admin(ctx, termID)
	})
}

// Teacher godoc
// @Summary Teacher dashboard for today
// @Tags Dashboard
// @Produce json
// @Param termId query string false "Term ID (defaults to the active term)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/teacher [get]
func (h *DashboardHandler) Teacher(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID, termID string) (interface{}, bool, error) {
		return h.service.Teacher(ctx, userID, termID)
	})
}

// Student godoc
// @Summary Student dashboard for today
// @Tags Dashboard
// @Produce json
// @Param termId query string false "Term ID (defaults to the active term)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/student [get]
func (h *DashboardHandler) Student(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID, termID string) (interface{}, bool, error) {
		return h.service.Student(ctx, userID, termID)
	})
}

// Homeroom godoc
// @Summary Homeroom class overview
// @Tags Dashboard
// @Produce json
// @Param termId query string false "Term ID (defaults to the active term)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/homeroom [get]
func (h *DashboardHandler) Homeroom(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID, termID string) (interface{}, bool, error) {
		return h.service.Homeroom(ctx, userID, termID)
	})
}

type dashboardLoader func(ctx context.Context, userID, termID string) (interface{}, bool, error)

func (h *DashboardHandler) serve(c *gin.Context, load dashboardLoader) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "dashboards are disabled"))
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	start := time.Now()
	summary, cacheHit, err := load(c.Request.Context(), claims.UserID, strings.TrimSpace(c.Query("termId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}
