package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/service"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

// fakeTokens treats the bearer token as the user id.
type fakeTokens map[string]models.UserRole

func (f fakeTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	role, ok := f[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &models.JWTClaims{UserID: token, Role: role}, nil
}

var testTokens = fakeTokens{
	"adm":  models.RoleAdmin,
	"tch":  models.RoleTeacher,
	"tch2": models.RoleTeacher,
	"hr":   models.RoleHomeroom,
	"s1":   models.RoleStudent,
	"s2":   models.RoleStudent,
}

type courseFinderStub map[string]models.Course

func (s courseFinderStub) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Course, error) {
	course, ok := s[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

type enrollmentFake struct {
	enrolled   []service.EnrollRequest
	unenrolled []string
	err        error
}

func (f *enrollmentFake) Enroll(_ context.Context, req service.EnrollRequest) (*models.Course, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enrolled = append(f.enrolled, req)
	return &models.Course{ID: req.CourseID, StudentIDs: []string{req.StudentID}, Version: 2}, nil
}

func (f *enrollmentFake) Unenroll(_ context.Context, courseID, studentID string) error {
	f.unenrolled = append(f.unenrolled, courseID+"/"+studentID)
	return f.err
}

type conflictFake struct {
	conflict *models.Conflict
}

func (f *conflictFake) CheckStudentScheduleConflict(context.Context, string, string) (*models.Conflict, error) {
	return f.conflict, nil
}

type scheduleFake struct {
	preview  []models.StudentScheduleConflict
	replaced *service.ReplaceScheduleRequest
}

func (f *scheduleFake) Preview(context.Context, string, []models.Slot) ([]models.StudentScheduleConflict, error) {
	return f.preview, nil
}

func (f *scheduleFake) Replace(_ context.Context, req service.ReplaceScheduleRequest) (*models.Course, error) {
	f.replaced = &req
	return &models.Course{ID: req.CourseID, Version: *req.ExpectedVersion + 1}, nil
}

type courseGradeFake struct {
	includeAttendance *bool
}

func (f *courseGradeFake) CourseGrade(_ context.Context, courseID, studentID string, includeAttendance bool) (*models.CourseGrade, error) {
	f.includeAttendance = &includeAttendance
	return &models.CourseGrade{CourseID: courseID, StudentID: studentID, Grade: 88, IncludeAttendance: includeAttendance}, nil
}

type attendanceFake struct {
	req *service.RecordAttendanceRequest
}

func (f *attendanceFake) Record(_ context.Context, req service.RecordAttendanceRequest) (int, error) {
	f.req = &req
	return len(req.Entries), nil
}

type studentReadFake struct{}

func (studentReadFake) StudentGrades(_ context.Context, studentID, termID string) ([]models.CourseGrade, error) {
	return []models.CourseGrade{{StudentID: studentID, CourseID: "c1"}}, nil
}

func (studentReadFake) Profile(context.Context, string, string) ([]models.IntelligenceScore, error) {
	return []models.IntelligenceScore{}, nil
}

type termFake struct{}

func (termFake) Active(context.Context) (*models.Term, error) {
	return &models.Term{ID: "t1", IsActive: true}, nil
}

func (termFake) Activate(_ context.Context, id string) (*models.Term, int64, error) {
	return &models.Term{ID: id, IsActive: true}, 1, nil
}

type routerFixture struct {
	router     *gin.Engine
	enrollment *enrollmentFake
	conflicts  *conflictFake
	schedules  *scheduleFake
	grades     *courseGradeFake
	attendance *attendanceFake
}

func newRouterFixture() *routerFixture {
	gin.SetMode(gin.TestMode)
	f := &routerFixture{
		enrollment: &enrollmentFake{},
		conflicts:  &conflictFake{},
		schedules:  &scheduleFake{},
		grades:     &courseGradeFake{},
		attendance: &attendanceFake{},
	}
	courses := courseFinderStub{
		"c1": {ID: "c1", Name: "Algebra", TermID: "t1", TeacherID: "tch", StudentIDs: []string{"s1"}},
	}
	access := service.NewCourseAccess(courses)

	f.router = gin.New()
	Register(f.router.Group("/api/v1"), testTokens, Handlers{
		Courses: NewCourseHandler(CourseHandlerDeps{
			Access:     access,
			Conflicts:  f.conflicts,
			Enrollment: f.enrollment,
			Schedules:  f.schedules,
			Grades:     f.grades,
			Attendance: f.attendance,
		}),
		Students: NewStudentHandler(studentReadFake{}, studentReadFake{}),
		Terms:    NewTermHandler(termFake{}),
	}, zap.NewNop())
	return f
}

func (f *routerFixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireToken(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodGet, "/api/v1/terms/active", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/terms/active", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/terms/active", "s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTermActivateIsAdminOnly(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/terms/t2/activate", "tch", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/terms/t2/activate", "adm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.EqualValues(t, 1, envelope.Meta["deactivated"])
}

func TestEnrollStudentSelfOnly(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/courses/c1/enrollments", "s2", map[string]string{"student_id": "s1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.enrollment.enrolled)

	rec = f.do(http.MethodPost, "/api/v1/courses/c1/enrollments", "s2", map[string]string{"student_id": "s2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.enrollment.enrolled, 1)
	assert.Equal(t, service.EnrollRequest{CourseID: "c1", StudentID: "s2"}, f.enrollment.enrolled[0])
}

func TestEnrollOtherTeacherForbidden(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/courses/c1/enrollments", "tch2", map[string]string{"student_id": "s2"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnrollScheduleConflict(t *testing.T) {
	f := newRouterFixture()
	f.enrollment.err = appErrors.Clone(appErrors.ErrScheduleConflict, "student already has Biology on day 1 period 3")

	rec := f.do(http.MethodPost, "/api/v1/courses/c1/enrollments", "tch", map[string]string{"student_id": "s2"})

	require.Equal(t, http.StatusConflict, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "SCHEDULE_CONFLICT", envelope.Error.Code)
}

func TestEnrollUnknownCourse(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/courses/missing/enrollments", "adm", map[string]string{"student_id": "s2"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnenrollRequiresStaff(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodDelete, "/api/v1/courses/c1/enrollments/s1", "s1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/courses/c1/enrollments/s1", "tch", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"c1/s1"}, f.enrollment.unenrolled)
}

func TestConflictsEndpoint(t *testing.T) {
	f := newRouterFixture()
	f.conflicts.conflict = &models.Conflict{CourseName: "Biology", DayOfWeek: 1, Period: 3}

	rec := f.do(http.MethodGet, "/api/v1/courses/c1/conflicts", "s1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/courses/c1/conflicts?studentId=s1", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body conflictResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	require.NotNil(t, body.Conflict)
	assert.Equal(t, "Biology", body.Conflict.CourseName)
}

func TestReplaceSchedulePassesVersion(t *testing.T) {
	f := newRouterFixture()
	payload := map[string]interface{}{
		"slots":            []models.Slot{{DayOfWeek: 2, Period: 1}},
		"expected_version": 3,
	}

	rec := f.do(http.MethodPut, "/api/v1/courses/c1/schedules", "tch", payload)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.schedules.replaced)
	assert.Equal(t, "c1", f.schedules.replaced.CourseID)
	assert.Equal(t, 3, *f.schedules.replaced.ExpectedVersion)
}

func TestPreviewScheduleStudentForbidden(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/courses/c1/schedules/preview", "s1", map[string]interface{}{"slots": []models.Slot{}})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCourseGradeIncludeAttendance(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodGet, "/api/v1/courses/c1/grades/s1", "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.grades.includeAttendance)
	assert.True(t, *f.grades.includeAttendance)

	rec = f.do(http.MethodGet, "/api/v1/courses/c1/grades/s1?includeAttendance=false", "hr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *f.grades.includeAttendance)

	rec = f.do(http.MethodGet, "/api/v1/courses/c1/grades/s1?includeAttendance=maybe", "adm", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/courses/c1/grades/s1", "s2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStudentGradesAccess(t *testing.T) {
	f := newRouterFixture()

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/students/s1/grades", "s1", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/students/s1/grades", "s2", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/students/s1/intelligence", "hr", nil).Code)
}

func TestRecordAttendance(t *testing.T) {
	f := newRouterFixture()
	payload := map[string]interface{}{
		"date": "2026-03-02T00:00:00Z",
		"entries": []map[string]string{
			{"student_id": "s1", "status": "PRESENT"},
		},
	}

	rec := f.do(http.MethodPost, "/api/v1/courses/c1/attendance", "tch", payload)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.attendance.req)
	assert.Equal(t, "c1", f.attendance.req.CourseID)
	assert.Contains(t, rec.Body.String(), `"recorded":1`)
}
