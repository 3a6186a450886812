package service

import (
	"context"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

// CourseAccess decides who may act on a course or read a student's records.
type CourseAccess struct {
	courses courseFinder
}

// NewCourseAccess constructs the access checker.
func NewCourseAccess(courses courseFinder) *CourseAccess {
	return &CourseAccess{courses: courses}
}

// Course loads a live course.
func (a *CourseAccess) Course(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := a.courses.FindByID(ctx, nil, courseID)
	if err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}
	return course, nil
}

// ManageCourse loads the course when the caller is an admin or its teacher.
func (a *CourseAccess) ManageCourse(ctx context.Context, claims *models.JWTClaims, courseID string) (*models.Course, error) {
	course, err := a.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := CanManageCourse(claims, course); err != nil {
		return nil, err
	}
	return course, nil
}

// ActOnStudent loads the course when the caller manages it or is the student
// named in the request.
func (a *CourseAccess) ActOnStudent(ctx context.Context, claims *models.JWTClaims, courseID, studentID string) (*models.Course, error) {
	course, err := a.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if claims.HasRole(models.RoleStudent) {
		if claims.UserID != studentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only act for themselves")
		}
		return course, nil
	}
	if err := CanManageCourse(claims, course); err != nil {
		return nil, err
	}
	return course, nil
}

// ReadCourseStudent extends ActOnStudent with read access for homeroom
// teachers.
func (a *CourseAccess) ReadCourseStudent(ctx context.Context, claims *models.JWTClaims, courseID, studentID string) (*models.Course, error) {
	if claims.HasRole(models.RoleHomeroom) {
		return a.Course(ctx, courseID)
	}
	return a.ActOnStudent(ctx, claims, courseID, studentID)
}

// CanManageCourse admits admins and the course's own teacher.
func CanManageCourse(claims *models.JWTClaims, course *models.Course) error {
	switch {
	case claims == nil:
		return appErrors.ErrUnauthorized
	case claims.HasRole(models.RoleAdmin):
		return nil
	case claims.HasRole(models.RoleTeacher, models.RoleHomeroom) && course.TeacherID == claims.UserID:
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}
}

// CanReadStudent lets staff read any student and students read themselves.
func CanReadStudent(claims *models.JWTClaims, studentID string) error {
	switch {
	case claims == nil:
		return appErrors.ErrUnauthorized
	case claims.HasRole(models.RoleAdmin, models.RoleTeacher, models.RoleHomeroom):
		return nil
	case claims.UserID == studentID:
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "students may only read their own records")
	}
}
