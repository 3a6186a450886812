package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type gradedSubmissionReader interface {
	ListGraded(ctx context.Context, studentID, termID string) ([]models.GradedSubmission, error)
}

// IntelligenceService builds intelligence profiles from graded work.
type IntelligenceService struct {
	submissions gradedSubmissionReader
	terms       activeTermReader
	logger      *zap.Logger
}

// NewIntelligenceService constructs the service.
func NewIntelligenceService(submissions gradedSubmissionReader, terms activeTermReader, logger *zap.Logger) *IntelligenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntelligenceService{submissions: submissions, terms: terms, logger: logger}
}

// Profile returns the student's six-domain profile for the term, or the
// active term when termID is empty.
func (s *IntelligenceService) Profile(ctx context.Context, studentID, termID string) ([]models.IntelligenceScore, error) {
	if termID == "" {
		id, err := activeTermID(ctx, s.terms)
		if err != nil {
			return nil, err
		}
		termID = id
	}
	graded, err := s.submissions.ListGraded(ctx, studentID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load graded submissions")
	}
	return ComputeIntelligenceProfile(graded), nil
}

// SchoolProfile averages every graded submission of the term.
func (s *IntelligenceService) SchoolProfile(ctx context.Context, termID string) ([]models.IntelligenceScore, error) {
	graded, err := s.submissions.ListGraded(ctx, "", termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load graded submissions")
	}
	return ComputeIntelligenceProfile(graded), nil
}
