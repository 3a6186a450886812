package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/pkg/export"
	"github.com/noah-isme/sma-lms-api/pkg/storage"
)

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type tableRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type exportCourseReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error)
}

type exportUserReader interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type exportAttendanceReader interface {
	TallyByStudentCourses(ctx context.Context, studentIDs []string, termID string) ([]models.AttendanceTally, error)
}

type gradebookSource interface {
	ClassGrades(ctx context.Context, courses []models.Course, tallies []models.AttendanceTally) (map[string][]models.CourseGrade, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures a rendered and stored export.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders course gradebooks and stores them behind signed links.
type ExportService struct {
	courses    exportCourseReader
	users      exportUserReader
	attendance exportAttendanceReader
	grades     gradebookSource
	storage    fileStorage
	signer     *storage.SignedURLSigner
	renderers  map[models.ReportFormat]tableRenderer
	cfg        ExportConfig
	logger     *zap.Logger
	now        func() time.Time
}

// ExportServiceParams groups the dependencies of NewExportService.
type ExportServiceParams struct {
	Courses    exportCourseReader
	Users      exportUserReader
	Attendance exportAttendanceReader
	Grades     gradebookSource
	Storage    fileStorage
	Signer     *storage.SignedURLSigner
	CSV        tableRenderer
	PDF        tableRenderer
	Config     ExportConfig
	Logger     *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(p ExportServiceParams) *ExportService {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Config.ResultTTL <= 0 {
		p.Config.ResultTTL = 24 * time.Hour
	}
	if p.CSV == nil {
		p.CSV = export.NewCSVExporter()
	}
	if p.PDF == nil {
		p.PDF = export.NewPDFExporter()
	}
	return &ExportService{
		courses:    p.Courses,
		users:      p.Users,
		attendance: p.Attendance,
		grades:     p.Grades,
		storage:    p.Storage,
		signer:     p.Signer,
		renderers: map[models.ReportFormat]tableRenderer{
			models.ReportFormatCSV: p.CSV,
			models.ReportFormatPDF: p.PDF,
		},
		cfg:    p.Config,
		logger: p.Logger,
		now:    time.Now,
	}
}

// Generate builds the gradebook for job, stores the rendered file and signs
// a download link for it.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("report job is nil")
	}
	if job.Type != models.ReportTypeGradebook {
		return nil, fmt.Errorf("unsupported report type %s", job.Type)
	}
	renderer, ok := s.renderers[job.Params.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Params.Format)
	}

	dataset, err := s.Gradebook(ctx, job.Params.CourseID)
	if err != nil {
		return nil, err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Params.Format, err)
	}

	relPath, err := s.storage.Save(fmt.Sprintf("gradebooks/%s.%s", job.ID, job.Params.Format), payload)
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, fmt.Errorf("sign export: %w", err)
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Debug("gradebook exported",
		zap.String("job_id", job.ID),
		zap.String("course_id", job.Params.CourseID),
		zap.Int("rows", len(dataset.Rows)),
	)
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/download/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Gradebook lists every enrolled student of the course with their grade,
// sorted by name, and a class average footer.
func (s *ExportService) Gradebook(ctx context.Context, courseID string) (export.Dataset, error) {
	course, err := s.courses.FindByID(ctx, nil, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return export.Dataset{}, fmt.Errorf("course %s not found", courseID)
		}
		return export.Dataset{}, fmt.Errorf("load course: %w", err)
	}

	dataset := export.Dataset{
		Title:    "Gradebook: " + course.Name,
		Subtitle: fmt.Sprintf("Term %s, generated %s", course.TermID, s.now().UTC().Format("2006-01-02 15:04 MST")),
		Headers:  []string{"Student", "Graded", "Points", "Max Points", "Extra Credit", "Attendance %", "Grade (no attendance)", "Grade"},
	}
	if len(course.StudentIDs) == 0 {
		return dataset, nil
	}

	users, err := s.users.FindByIDs(ctx, course.StudentIDs)
	if err != nil {
		return export.Dataset{}, fmt.Errorf("load roster: %w", err)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.FullName
	}
	tallies, err := s.attendance.TallyByStudentCourses(ctx, course.StudentIDs, course.TermID)
	if err != nil {
		return export.Dataset{}, fmt.Errorf("load attendance: %w", err)
	}
	byStudent, err := s.grades.ClassGrades(ctx, []models.Course{*course}, tallies)
	if err != nil {
		return export.Dataset{}, err
	}

	type line struct {
		name  string
		grade models.CourseGrade
	}
	lines := make([]line, 0, len(course.StudentIDs))
	for _, studentID := range course.StudentIDs {
		name := names[studentID]
		if name == "" {
			name = studentID
		}
		for _, g := range byStudent[studentID] {
			if g.CourseID == course.ID {
				lines = append(lines, line{name: name, grade: g})
			}
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].name < lines[j].name })

	total := 0.0
	for _, l := range lines {
		g := l.grade
		dataset.AddRow(
			l.name,
			fmt.Sprintf("%d/%d", g.GradedAssignments, g.TotalAssignments),
			formatScore(g.Breakdown.StudentPoints),
			formatScore(g.Breakdown.MaxPointsPossible),
			formatScore(g.Breakdown.ExtraCreditPoints),
			strconv.Itoa(g.AttendancePercentage),
			formatScore(g.GradeWithoutAttendance),
			formatScore(g.Grade),
		)
		total += g.Grade
	}
	if len(lines) > 0 {
		dataset.Footer = []string{
			fmt.Sprintf("Students: %d", len(lines)),
			"Class average: " + formatScore(total/float64(len(lines))),
		}
	}
	return dataset, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, or the configured result TTL when
// ttl is not positive.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
