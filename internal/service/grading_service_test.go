package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

func (s *submissionStub) FindByID(_ context.Context, id string) (*models.Submission, error) {
	for i := range s.items {
		if s.items[i].ID == id {
			sub := s.items[i]
			return &sub, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *submissionStub) UpdateGrade(_ context.Context, id string, grade float64) error {
	for i := range s.items {
		if s.items[i].ID == id {
			now := time.Now().UTC()
			s.items[i].Grade = &grade
			s.items[i].GradedAt = &now
			return nil
		}
	}
	return sql.ErrNoRows
}

func TestGradingServiceGradeSubmission(t *testing.T) {
	courses, assignments, submissions, _, _ := gradeFixture()
	cache := newMemoryCache()
	cache.items["dash:student:s1:t1:2024-03-04"] = []byte("{}")
	cache.items["dash:student:s2:t1:2024-03-04"] = []byte("{}")
	svc := NewGradingService(submissions, assignments, courses, NewCacheService(cache, nil, 0, nil, true), nil, nil)

	sub, err := svc.GradeSubmission(context.Background(), GradeSubmissionRequest{SubmissionID: "sub1", Grade: gradePtr(95)})

	require.NoError(t, err)
	require.NotNil(t, sub.Grade)
	assert.Equal(t, 95.0, *sub.Grade)
	assert.NotNil(t, sub.GradedAt)
	assert.False(t, cache.has("dash:student:s1:t1:2024-03-04"))
	assert.True(t, cache.has("dash:student:s2:t1:2024-03-04"))
}

func TestGradingServiceRejectsOutOfRange(t *testing.T) {
	courses, assignments, submissions, _, _ := gradeFixture()
	svc := NewGradingService(submissions, assignments, courses, nil, nil, nil)

	for _, grade := range []*float64{nil, gradePtr(-1), gradePtr(100.5)} {
		_, err := svc.GradeSubmission(context.Background(), GradeSubmissionRequest{SubmissionID: "sub1", Grade: grade})
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	}
}

func TestGradingServiceCourseLookup(t *testing.T) {
	courses, assignments, submissions, _, _ := gradeFixture()
	svc := NewGradingService(submissions, assignments, courses, nil, nil, nil)

	course, err := svc.Course(context.Background(), "sub3")
	require.NoError(t, err)
	assert.Equal(t, "tch", course.TeacherID)

	_, err = svc.Course(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
