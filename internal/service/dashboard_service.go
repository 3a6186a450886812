package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-lms-api/internal/dto"
	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

const (
	dashboardPrefix   = "dash:"
	recentGradesLimit = 5
	recentWindow      = 7 * 24 * time.Hour
)

type dashboardUserReader interface {
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type dashboardCourseReader interface {
	List(ctx context.Context, filter repository.CourseFilter) ([]models.Course, error)
	CountByTerm(ctx context.Context, termID string) (int, error)
	ListByStudentsInTerm(ctx context.Context, exec sqlx.ExtContext, studentIDs []string, termID string) (map[string][]models.Course, error)
}

type dashboardAttendanceReader interface {
	TallyForDate(ctx context.Context, termID, teacherID string, date time.Time) ([]models.AttendanceTally, error)
	TallyByStudentCourses(ctx context.Context, studentIDs []string, termID string) ([]models.AttendanceTally, error)
}

type dashboardSubmissionReader interface {
	CountSubmittedSince(ctx context.Context, termID string, since time.Time) (int, error)
	ListRecentGraded(ctx context.Context, studentID string, limit int) ([]models.GradedSubmission, error)
}

type dashboardAssignmentReader interface {
	ListUpcomingForStudent(ctx context.Context, studentID, termID string, from, to time.Time) ([]models.UpcomingAssignment, error)
	CountPendingGrading(ctx context.Context, teacherID, termID string) (int, error)
}

type homeroomClassReader interface {
	FindByHomeroomTeacher(ctx context.Context, teacherID string) (*models.Class, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL               time.Duration
	LowAttendanceThreshold int
	UpcomingHorizon        time.Duration
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Users        dashboardUserReader
	Courses      dashboardCourseReader
	Attendance   dashboardAttendanceReader
	Submissions  dashboardSubmissionReader
	Assignments  dashboardAssignmentReader
	Classes      homeroomClassReader
	Terms        activeTermReader
	Grades       *GradeService
	Intelligence *IntelligenceService
	Cache        *CacheService
	Logger       *zap.Logger
	Config       DashboardServiceConfig
}

// DashboardService composes the per-role dashboards. Each dashboard fans out
// its independent reads and is cached per user, term and day. Sections may
// come from slightly different points in time.
type DashboardService struct {
	users        dashboardUserReader
	courses      dashboardCourseReader
	attendance   dashboardAttendanceReader
	submissions  dashboardSubmissionReader
	assignments  dashboardAssignmentReader
	classes      homeroomClassReader
	terms        activeTermReader
	grades       *GradeService
	intelligence *IntelligenceService
	cache        *CacheService
	logger       *zap.Logger
	now          func() time.Time
	cfg          DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.LowAttendanceThreshold <= 0 || cfg.LowAttendanceThreshold > 100 {
		cfg.LowAttendanceThreshold = 80
	}
	if cfg.UpcomingHorizon <= 0 {
		cfg.UpcomingHorizon = recentWindow
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		users:        params.Users,
		courses:      params.Courses,
		attendance:   params.Attendance,
		submissions:  params.Submissions,
		assignments:  params.Assignments,
		classes:      params.Classes,
		terms:        params.Terms,
		grades:       params.Grades,
		intelligence: params.Intelligence,
		cache:        params.Cache,
		logger:       logger,
		now:          time.Now,
		cfg:          cfg,
	}
}

func dashboardKey(role, userID, termID string, date time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", dashboardPrefix, role, userID, termID, date.Format("2006-01-02"))
}

// dashboardPatternsForCourse lists the cached dashboards a change to course
// can make stale.
func dashboardPatternsForCourse(course *models.Course, studentIDs ...string) []string {
	patterns := []string{dashboardPrefix + "admin:*", dashboardPrefix + "homeroom:*"}
	if course != nil && course.TeacherID != "" {
		patterns = append(patterns, fmt.Sprintf("%steacher:%s:*", dashboardPrefix, course.TeacherID))
	}
	for _, id := range studentIDs {
		patterns = append(patterns, fmt.Sprintf("%sstudent:%s:*", dashboardPrefix, id))
	}
	return patterns
}

// Admin returns the school overview.
func (s *DashboardService) Admin(ctx context.Context, termID string) (*dto.AdminDashboardResponse, bool, error) {
	termID, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, false, err
	}
	today := s.today()
	key := dashboardKey("admin", "all", termID, today)
	var cached dto.AdminDashboardResponse
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	resp := &dto.AdminDashboardResponse{TermID: termID, Date: today.Format("2006-01-02")}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		resp.Counts.Students, err = s.users.CountByRole(gctx, models.RoleStudent)
		return err
	})
	g.Go(func() (err error) {
		resp.Counts.Teachers, err = s.users.CountByRole(gctx, models.RoleTeacher)
		return err
	})
	g.Go(func() (err error) {
		resp.Counts.Courses, err = s.courses.CountByTerm(gctx, termID)
		return err
	})
	g.Go(func() error {
		tallies, err := s.attendance.TallyForDate(gctx, termID, "", today)
		if err != nil {
			return err
		}
		resp.AttendanceToday = sumPulse(tallies)
		return nil
	})
	g.Go(func() (err error) {
		resp.RecentSubmissions, err = s.submissions.CountSubmittedSince(gctx, termID, s.now().Add(-recentWindow))
		return err
	})
	g.Go(func() (err error) {
		resp.IntelligenceAverages, err = s.intelligence.SchoolProfile(gctx, termID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, dashboardError(err, "admin")
	}

	resp.GeneratedAt = s.now().UTC()
	s.cache.Set(ctx, key, resp, s.cfg.CacheTTL)
	return resp, false, nil
}

// Teacher returns the teacher's timetable, grading queue and attendance for
// the day.
func (s *DashboardService) Teacher(ctx context.Context, teacherID, termID string) (*dto.TeacherDashboardResponse, bool, error) {
	if teacherID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "teacherId is required")
	}
	termID, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, false, err
	}
	today := s.today()
	key := dashboardKey("teacher", teacherID, termID, today)
	var cached dto.TeacherDashboardResponse
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	resp := &dto.TeacherDashboardResponse{TeacherID: teacherID, TermID: termID, Date: today.Format("2006-01-02")}
	var (
		courses []models.Course
		tallies []models.AttendanceTally
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		courses, err = s.courses.List(gctx, repository.CourseFilter{TermID: termID, TeacherID: teacherID})
		return err
	})
	g.Go(func() (err error) {
		resp.PendingGrading, err = s.assignments.CountPendingGrading(gctx, teacherID, termID)
		return err
	})
	g.Go(func() (err error) {
		tallies, err = s.attendance.TallyForDate(gctx, termID, teacherID, today)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, dashboardError(err, "teacher")
	}

	resp.TodayClasses = todayClasses(courses, today.Weekday())
	byCourse := make(map[string]models.AttendanceTally, len(tallies))
	for _, t := range tallies {
		byCourse[t.CourseID] = t
	}
	resp.CourseAttendance = make([]dto.CourseAttendance, 0, len(courses))
	for _, c := range courses {
		resp.CourseAttendance = append(resp.CourseAttendance, dto.CourseAttendance{
			CourseID:   c.ID,
			CourseName: c.Name,
			Pulse:      pulseOf(byCourse[c.ID].Present, byCourse[c.ID].Total),
		})
	}

	resp.GeneratedAt = s.now().UTC()
	s.cache.Set(ctx, key, resp, s.cfg.CacheTTL)
	return resp, false, nil
}

// Student returns the student's day, deadlines, grades and profile.
func (s *DashboardService) Student(ctx context.Context, studentID, termID string) (*dto.StudentDashboardResponse, bool, error) {
	if studentID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "studentId is required")
	}
	termID, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, false, err
	}
	today := s.today()
	key := dashboardKey("student", studentID, termID, today)
	var cached dto.StudentDashboardResponse
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	resp := &dto.StudentDashboardResponse{StudentID: studentID, TermID: termID, Date: today.Format("2006-01-02")}
	var (
		courses []models.Course
		recent  []models.GradedSubmission
	)
	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		courses, err = s.courses.List(gctx, repository.CourseFilter{TermID: termID, StudentID: studentID})
		return err
	})
	g.Go(func() (err error) {
		resp.UpcomingDeadlines, err = s.assignments.ListUpcomingForStudent(gctx, studentID, termID, now, now.Add(s.cfg.UpcomingHorizon))
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.submissions.ListRecentGraded(gctx, studentID, recentGradesLimit)
		return err
	})
	g.Go(func() (err error) {
		resp.CourseGrades, err = s.grades.StudentGrades(gctx, studentID, termID)
		return err
	})
	g.Go(func() (err error) {
		resp.Intelligence, err = s.intelligence.Profile(gctx, studentID, termID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, dashboardError(err, "student")
	}

	resp.TodayClasses = todayClasses(courses, today.Weekday())
	resp.RecentGrades = make([]dto.RecentGrade, 0, len(recent))
	for _, r := range recent {
		resp.RecentGrades = append(resp.RecentGrades, dto.RecentGrade{
			SubmissionID:    r.SubmissionID,
			AssignmentTitle: r.AssignmentTitle,
			CourseName:      r.CourseName,
			Grade:           r.Grade,
		})
	}
	if resp.UpcomingDeadlines == nil {
		resp.UpcomingDeadlines = []models.UpcomingAssignment{}
	}

	resp.GeneratedAt = s.now().UTC()
	s.cache.Set(ctx, key, resp, s.cfg.CacheTTL)
	return resp, false, nil
}

// Homeroom returns attendance and grade standing for the teacher's class.
func (s *DashboardService) Homeroom(ctx context.Context, teacherID, termID string) (*dto.HomeroomDashboardResponse, bool, error) {
	if teacherID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "teacherId is required")
	}
	termID, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, false, err
	}
	today := s.today()
	key := dashboardKey("homeroom", teacherID, termID, today)
	var cached dto.HomeroomDashboardResponse
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	class, err := s.classes.FindByHomeroomTeacher(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no homeroom class assigned")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load homeroom class")
	}
	role := models.RoleStudent
	students, _, err := s.users.List(ctx, models.UserFilter{Role: &role, ClassID: class.ID, PageSize: 500})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}

	var (
		byStudent map[string][]models.Course
		tallies   []models.AttendanceTally
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byStudent, err = s.courses.ListByStudentsInTerm(gctx, nil, ids, termID)
		return err
	})
	g.Go(func() (err error) {
		tallies, err = s.attendance.TallyByStudentCourses(gctx, ids, termID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, dashboardError(err, "homeroom")
	}
	grades, err := s.grades.ClassGrades(ctx, uniqueCourses(byStudent), tallies)
	if err != nil {
		return nil, false, err
	}

	attendance := make(map[string]*dto.AttendancePulse, len(ids))
	for _, t := range tallies {
		p, ok := attendance[t.StudentID]
		if !ok {
			p = &dto.AttendancePulse{}
			attendance[t.StudentID] = p
		}
		p.Present += t.Present
		p.Total += t.Total
	}

	resp := &dto.HomeroomDashboardResponse{
		ClassID:             class.ID,
		ClassName:           class.Name,
		TermID:              termID,
		Threshold:           s.cfg.LowAttendanceThreshold,
		Students:            make([]dto.HomeroomStudent, 0, len(students)),
		LowAttendanceAlerts: make([]dto.HomeroomStudent, 0),
	}
	for _, st := range students {
		row := dto.HomeroomStudent{StudentID: st.ID, Name: st.FullName}
		if p, ok := attendance[st.ID]; ok && p.Total > 0 {
			row.AttendancePercentage = AttendancePercentage(p.Present, p.Total)
			row.LowAttendance = row.AttendancePercentage < s.cfg.LowAttendanceThreshold
		}
		row.AverageGrade = averageGrade(grades[st.ID])
		resp.Students = append(resp.Students, row)
		if row.LowAttendance {
			resp.LowAttendanceAlerts = append(resp.LowAttendanceAlerts, row)
		}
	}
	sort.SliceStable(resp.LowAttendanceAlerts, func(i, j int) bool {
		return resp.LowAttendanceAlerts[i].AttendancePercentage < resp.LowAttendanceAlerts[j].AttendancePercentage
	})

	resp.GeneratedAt = s.now().UTC()
	s.cache.Set(ctx, key, resp, s.cfg.CacheTTL)
	return resp, false, nil
}

func (s *DashboardService) today() time.Time {
	return truncateDay(s.now().UTC())
}

func (s *DashboardService) resolveTerm(ctx context.Context, termID string) (string, error) {
	if termID != "" {
		return termID, nil
	}
	return activeTermID(ctx, s.terms)
}

func dashboardError(err error, role string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build "+role+" dashboard")
}

// todayClasses lists live slots on weekday across courses, by period.
func todayClasses(courses []models.Course, weekday time.Weekday) []dto.TodayClass {
	classes := make([]dto.TodayClass, 0)
	for i := range courses {
		course := &courses[i]
		for _, slot := range course.LiveSlots() {
			if slot.DayOfWeek != int(weekday) {
				continue
			}
			classes = append(classes, dto.TodayClass{CourseID: course.ID, CourseName: course.Name, Period: slot.Period})
		}
	}
	sort.SliceStable(classes, func(i, j int) bool {
		if classes[i].Period != classes[j].Period {
			return classes[i].Period < classes[j].Period
		}
		return classes[i].CourseName < classes[j].CourseName
	})
	return classes
}

func pulseOf(present, total int) dto.AttendancePulse {
	return dto.AttendancePulse{Present: present, Total: total, Percentage: AttendancePercentage(present, total)}
}

func sumPulse(tallies []models.AttendanceTally) dto.AttendancePulse {
	var present, total int
	for _, t := range tallies {
		present += t.Present
		total += t.Total
	}
	return pulseOf(present, total)
}

func averageGrade(grades []models.CourseGrade) *float64 {
	if len(grades) == 0 {
		return nil
	}
	var sum float64
	for _, g := range grades {
		sum += g.Grade
	}
	avg := math.Round(sum/float64(len(grades))*10) / 10
	return &avg
}

func uniqueCourses(byStudent map[string][]models.Course) []models.Course {
	seen := make(map[string]struct{})
	courses := make([]models.Course, 0)
	for _, list := range byStudent {
		for _, c := range list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			courses = append(courses, c)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses
}
