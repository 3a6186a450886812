package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

func (s *attendanceStub) Record(_ context.Context, courseID string, date time.Time, entries []models.Attendance) error {
	if s.recorded == nil {
		s.recorded = map[string][]models.Attendance{}
	}
	key := courseID + "|" + date.Format("2006-01-02")
	s.recorded[key] = append(s.recorded[key], entries...)
	return nil
}

func TestAttendanceServiceRecord(t *testing.T) {
	courses, _, _, attendance, _ := gradeFixture()
	svc := NewAttendanceService(attendance, courses, nil, nil, nil)

	n, err := svc.Record(context.Background(), RecordAttendanceRequest{
		CourseID: "math",
		Date:     time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC),
		Entries: []AttendanceEntry{
			{StudentID: "s1", Status: models.AttendancePresent},
			{StudentID: "s2", Status: models.AttendanceSick},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, attendance.recorded["math|2024-03-04"], 2)
	assert.Equal(t, models.AttendanceSick, attendance.recorded["math|2024-03-04"][1].Status)
}

func TestAttendanceServiceRecordValidation(t *testing.T) {
	courses, _, _, attendance, _ := gradeFixture()
	svc := NewAttendanceService(attendance, courses, nil, nil, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	cases := map[string][]AttendanceEntry{
		"unknown status": {{StudentID: "s1", Status: "ASLEEP"}},
		"not enrolled":   {{StudentID: "zz", Status: models.AttendancePresent}},
		"duplicate":      {{StudentID: "s1", Status: models.AttendancePresent}, {StudentID: "s1", Status: models.AttendanceLate}},
		"empty":          {},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Record(context.Background(), RecordAttendanceRequest{CourseID: "math", Date: date, Entries: entries})
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
		})
	}
	assert.Empty(t, attendance.recorded)
}

func TestAttendanceServiceRecordMissingCourse(t *testing.T) {
	courses, _, _, attendance, _ := gradeFixture()
	svc := NewAttendanceService(attendance, courses, nil, nil, nil)

	_, err := svc.Record(context.Background(), RecordAttendanceRequest{
		CourseID: "nope",
		Date:     time.Now(),
		Entries:  []AttendanceEntry{{StudentID: "s1", Status: models.AttendancePresent}},
	})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
