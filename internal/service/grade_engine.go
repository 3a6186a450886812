package service

import (
	"math"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/pkg/config"
)

// ComputeGrade turns a point breakdown into a percentage in [0, 100] rounded
// to one decimal. A course with nothing gradable yet scores 100.
func ComputeGrade(b models.GradeBreakdown, includeAttendancePool bool, poolScore float64) float64 {
	if b.MaxPointsPossible <= 0 {
		return 100
	}
	earned := b.StudentPoints + b.ExtraCreditPoints
	if includeAttendancePool {
		earned += poolScore
	}
	pct := roundTo(earned*100/b.MaxPointsPossible, 1)
	switch {
	case pct > 100:
		return 100
	case pct < 0:
		return 0
	default:
		return pct
	}
}

// AttendancePercentage is present/total as a whole percentage, 0 when no
// attendance has been taken.
func AttendancePercentage(present, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(present) * 100 / float64(total)))
}

// EarnedPoolScore is the share of the attendance pool a student earned.
func EarnedPoolScore(poolScore float64, present, total int) float64 {
	if total <= 0 || poolScore <= 0 {
		return 0
	}
	return poolScore * float64(present) / float64(total)
}

// GradeTally is a breakdown plus how many assignments fed it.
type GradeTally struct {
	Breakdown models.GradeBreakdown
	Graded    int
	Total     int
}

// BuildGradeBreakdown sums earned and possible points for one student.
// Submissions are expected oldest first; the latest graded one per
// assignment counts. Extra credit never enters the denominator. Ungraded
// regular work counts against the student under the penalize policy and is
// left out under the exclude policy.
func BuildGradeBreakdown(assignments []models.Assignment, submissions []models.Submission, policy string) GradeTally {
	graded := make(map[string]float64, len(submissions))
	for i := range submissions {
		sub := &submissions[i]
		if !models.IsLive(sub) || !sub.IsGraded() {
			continue
		}
		graded[sub.AssignmentID] = clampPercent(*sub.Grade)
	}

	var tally GradeTally
	for i := range assignments {
		assignment := &assignments[i]
		if !models.IsLive(assignment) || assignment.MaxPoints < 0 {
			continue
		}
		tally.Total++
		grade, ok := graded[assignment.ID]
		if ok {
			tally.Graded++
		}
		earned := grade * assignment.MaxPoints / 100

		if assignment.IsExtraCredit {
			if ok {
				tally.Breakdown.ExtraCreditPoints += earned
			}
			continue
		}
		if ok {
			tally.Breakdown.StudentPoints += earned
			tally.Breakdown.MaxPointsPossible += assignment.MaxPoints
			continue
		}
		if policy != config.MissingWorkExclude {
			tally.Breakdown.MaxPointsPossible += assignment.MaxPoints
		}
	}
	return tally
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
