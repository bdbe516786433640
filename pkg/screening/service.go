package screening

import (
	"context"
	"time"

	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
	"github.com/trialmatch-ai/platform/pkg/observability/metrics"
)

// RecordStore supplies patient bundles. Implemented by the registry
// service locally and by its HTTP client across service boundaries.
type RecordStore interface {
	FetchBundles(ctx context.Context, patientIDs []string) (map[string]*models.PatientBundle, error)
}

// CriteriaStore supplies the criteria set and effective weights for a
// trial. Implemented by the trials service.
type CriteriaStore interface {
	GetCriteria(ctx context.Context, trialID int64) ([]models.Criterion, error)
	ScoringWeights(ctx context.Context, trialID int64) (models.ScoringWeights, error)
}

// AuditSink receives one append-only row per evaluated patient. Audit
// failures are logged and swallowed; they never fail an evaluation.
type AuditSink interface {
	AppendAudit(ctx context.Context, audit models.EligibilityAudit) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	records   RecordStore
	criteria  CriteriaStore
	audits    AuditSink
	evaluator *Evaluator
	cache     *VerdictCache
	events    EventPublisher
}

func NewService(records RecordStore, criteria CriteriaStore, audits AuditSink, evaluator *Evaluator, cache *VerdictCache, events EventPublisher) *Service {
	if evaluator == nil {
		evaluator = NewEvaluator(nil)
	}
	return &Service{
		records:   records,
		criteria:  criteria,
		audits:    audits,
		evaluator: evaluator,
		cache:     cache,
		events:    events,
	}
}

const (
	errNoCriteria      = "No eligibility criteria defined for trial"
	errPatientNotFound = "Patient not found"
)

// EvaluateBatch screens every requested patient against one trial.
// Only store I/O failures return an error; per-patient problems become
// error verdicts inside the map so the rest of the batch completes.
func (s *Service) EvaluateBatch(ctx context.Context, trialID int64, patientIDs []string) (map[string]models.Verdict, error) {
	criteria, err := s.criteria.GetCriteria(ctx, trialID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]models.Verdict, len(patientIDs))
	if len(criteria) == 0 {
		for _, pid := range patientIDs {
			results[pid] = ErrorVerdict(errNoCriteria)
		}
		return results, nil
	}

	weights, err := s.criteria.ScoringWeights(ctx, trialID)
	if err != nil {
		logger.Log.WithError(err).WithField("trial_id", trialID).Warn("falling back to default scoring weights")
		weights = models.DefaultScoringWeights()
	}

	bundles, err := s.records.FetchBundles(ctx, patientIDs)
	if err != nil {
		return nil, err
	}

	eligibleCount := 0
	for _, pid := range patientIDs {
		bundle, ok := bundles[pid]
		if !ok || bundle == nil {
			results[pid] = ErrorVerdict(errPatientNotFound)
			metrics.ObserveEvaluationError()
			continue
		}

		outcome := s.evaluator.ScorePatient(bundle, criteria, weights)
		results[pid] = outcome.Verdict
		if outcome.Verdict.Eligible {
			eligibleCount++
		}
		metrics.ObserveEvaluation(outcome.Verdict.Eligible, outcome.Verdict.Status)
		s.cache.Set(ctx, trialID, pid, outcome.Verdict)

		if s.audits != nil {
			verdict := outcome.Verdict
			audit := models.EligibilityAudit{
				TrialID:       trialID,
				PatientID:     pid,
				MatchedAt:     time.Now().UTC(),
				Status:        verdict.Status,
				Confidence:    verdict.Confidence,
				CriteriaMet:   outcome.CriteriaMet,
				CriteriaTotal: outcome.CriteriaTotal,
				Details:       &verdict,
			}
			if auditErr := s.audits.AppendAudit(ctx, audit); auditErr != nil {
				logger.Log.WithError(auditErr).WithFields(map[string]interface{}{
					"trial_id":   trialID,
					"patient_id": pid,
				}).Warn("eligibility audit not recorded")
			}
		}
	}

	if s.events != nil {
		err := s.events.PublishEvent(ctx, "screening.completed", "screening-service", map[string]interface{}{
			"trial_id": trialID,
			"patients": len(patientIDs),
			"eligible": eligibleCount,
		})
		if err != nil {
			logger.Log.WithError(err).Warn("screening.completed event not published")
		}
	}

	return results, nil
}

// Evaluate screens a single patient, serving from the verdict cache
// when possible.
func (s *Service) Evaluate(ctx context.Context, trialID int64, patientID string) (models.Verdict, error) {
	if cached, ok := s.cache.Get(ctx, trialID, patientID); ok {
		metrics.ObserveCacheHit()
		return *cached, nil
	}
	results, err := s.EvaluateBatch(ctx, trialID, []string{patientID})
	if err != nil {
		return models.Verdict{}, err
	}
	return results[patientID], nil
}
