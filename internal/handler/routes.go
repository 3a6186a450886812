package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/middleware"
	"github.com/noah-isme/sma-lms-api/internal/models"
)

// Handlers bundles everything mounted under the API prefix. Nil members
// leave their routes unregistered.
type Handlers struct {
	Courses     *CourseHandler
	Students    *StudentHandler
	Submissions *SubmissionHandler
	Terms       *TermHandler
	Dashboards  *DashboardHandler
	Chat        *ChatHandler
	Reports     *ReportHandler
}

// Register mounts the authenticated API on group. Route level role gates
// are coarse; ownership is decided per request.
func Register(group *gin.RouterGroup, tokens middleware.TokenValidator, h Handlers, logger *zap.Logger) {
	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleHomeroom)
	readers := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleHomeroom, models.RoleStudent)

	// Download tokens carry their own signature.
	if h.Reports != nil {
		group.GET("/reports/download/:token", h.Reports.Download)
	}

	api := group.Group("")
	api.Use(middleware.JWT(tokens))

	if h.Courses != nil {
		courses := api.Group("/courses/:id")
		courses.GET("/conflicts", readers, h.Courses.Conflicts)
		courses.POST("/schedules/preview", staff, h.Courses.PreviewSchedule)
		courses.PUT("/schedules", staff, middleware.Audit(logger, "course.schedule.replace"), h.Courses.ReplaceSchedule)
		courses.POST("/enrollments", readers, middleware.Audit(logger, "course.enroll"), h.Courses.Enroll)
		courses.DELETE("/enrollments/:studentId", staff, middleware.Audit(logger, "course.unenroll"), h.Courses.Unenroll)
		courses.GET("/grades/:studentId", readers, h.Courses.Grade)
		courses.POST("/attendance", staff, middleware.Audit(logger, "course.attendance.record"), h.Courses.RecordAttendance)
	}

	if h.Students != nil {
		students := api.Group("/students/:id", readers)
		students.GET("/grades", h.Students.Grades)
		students.GET("/intelligence", h.Students.Intelligence)
	}

	if h.Submissions != nil {
		api.PUT("/submissions/:id/grade", staff, middleware.Audit(logger, "submission.grade"), h.Submissions.Grade)
	}

	if h.Terms != nil {
		api.GET("/terms/active", h.Terms.GetActive)
		api.POST("/terms/:id/activate", admin, middleware.Audit(logger, "term.activate"), h.Terms.Activate)
	}

	if h.Dashboards != nil {
		dashboards := api.Group("/dashboard", middleware.WithResponseMeta())
		dashboards.GET("/admin", admin, h.Dashboards.Admin)
		dashboards.GET("/teacher", middleware.RequireRoles(models.RoleTeacher, models.RoleHomeroom), h.Dashboards.Teacher)
		dashboards.GET("/student", middleware.RequireRoles(models.RoleStudent), h.Dashboards.Student)
		dashboards.GET("/homeroom", middleware.RequireRoles(models.RoleHomeroom), h.Dashboards.Homeroom)
	}

	if h.Chat != nil {
		api.POST("/conversations", h.Chat.Start)
		api.GET("/conversations", h.Chat.List)
		api.GET("/conversations/unread", h.Chat.Unread)
		api.GET("/conversations/:id/messages", h.Chat.Poll)
		api.POST("/conversations/:id/messages", h.Chat.Send)
		api.POST("/conversations/:id/read", h.Chat.MarkRead)
		api.DELETE("/messages/:id", h.Chat.DeleteMessage)
	}

	if h.Reports != nil {
		reports := api.Group("/reports", staff)
		reports.POST("/gradebook", middleware.Audit(logger, "report.gradebook.create"), h.Reports.Gradebook)
		reports.GET("/:id", h.Reports.Status)
	}
}

// RegisterOps mounts the unauthenticated operational endpoints.
func RegisterOps(r gin.IRoutes, ops *MetricsHandler) {
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)
}
