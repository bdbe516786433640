package trials

import (
	"context"
	"errors"
	"strings"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

var errMissingTrialID = errors.New("trial_id is required")

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateTrial(ctx context.Context, req models.CreateTrialRequest) (models.Trial, error) {
	req.TrialID = strings.TrimSpace(req.TrialID)
	if req.TrialID == "" {
		return models.Trial{}, errMissingTrialID
	}
	return s.repo.CreateTrial(ctx, req)
}

func (s *Service) GetTrial(ctx context.Context, trialID int64) (models.Trial, error) {
	return s.repo.GetTrial(ctx, trialID)
}

func (s *Service) ListTrials(ctx context.Context, limit int) ([]models.Trial, error) {
	return s.repo.ListTrials(ctx, limit)
}

func (s *Service) ReplaceCriteria(ctx context.Context, trialID int64, criteria []models.Criterion) ([]models.Criterion, error) {
	for i := range criteria {
		switch criteria[i].Type {
		case models.CriterionInclusion, models.CriterionExclusion:
		default:
			criteria[i].Type = models.CriterionInclusion
		}
		if criteria[i].Scope == "" {
			criteria[i].Scope = "personal"
		}
	}
	return s.repo.ReplaceCriteria(ctx, trialID, criteria)
}

func (s *Service) GetCriteria(ctx context.Context, trialID int64) ([]models.Criterion, error) {
	return s.repo.GetCriteria(ctx, trialID)
}

// ScoringWeights resolves the effective weights for a trial: defaults
// merged with any per-trial overrides from matching_config.
func (s *Service) ScoringWeights(ctx context.Context, trialID int64) (models.ScoringWeights, error) {
	trial, err := s.repo.GetTrial(ctx, trialID)
	if err != nil {
		return models.ScoringWeights{}, err
	}
	weights := models.DefaultScoringWeights()
	if trial.MatchingConfig != nil {
		weights = weights.Merge(trial.MatchingConfig.Weights)
	}
	return weights, nil
}

func (s *Service) AppendAudit(ctx context.Context, audit models.EligibilityAudit) error {
	return s.repo.AppendAudit(ctx, audit)
}

func (s *Service) ListAudits(ctx context.Context, trialID int64, limit int) ([]models.EligibilityAudit, error) {
	return s.repo.ListAudits(ctx, trialID, limit)
}
