package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

type fakeRecordStore struct {
	bundles map[string]*models.PatientBundle
	err     error
}

func (f *fakeRecordStore) FetchBundles(ctx context.Context, patientIDs []string) (map[string]*models.PatientBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*models.PatientBundle)
	for _, pid := range patientIDs {
		if bundle, ok := f.bundles[pid]; ok {
			out[pid] = bundle
		}
	}
	return out, nil
}

type fakeCriteriaStore struct {
	criteria []models.Criterion
	weights  models.ScoringWeights
	err      error
}

func (f *fakeCriteriaStore) GetCriteria(ctx context.Context, trialID int64) ([]models.Criterion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.criteria, nil
}

func (f *fakeCriteriaStore) ScoringWeights(ctx context.Context, trialID int64) (models.ScoringWeights, error) {
	return f.weights, nil
}

type fakeAuditSink struct {
	audits []models.EligibilityAudit
	err    error
}

func (f *fakeAuditSink) AppendAudit(ctx context.Context, audit models.EligibilityAudit) error {
	if f.err != nil {
		return f.err
	}
	f.audits = append(f.audits, audit)
	return nil
}

func newTestService(records *fakeRecordStore, criteria *fakeCriteriaStore, audits *fakeAuditSink) *Service {
	return NewService(records, criteria, audits, testEvaluator(), nil, nil)
}

func standardCriteria() []models.Criterion {
	return []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Age 18 or older"},
		{ID: 2, Category: "CONDITION_PRESENT", Value: "22298006", Type: models.CriterionInclusion, Text: "Documented myocardial infarction"},
	}
}

func TestEvaluateBatch(t *testing.T) {
	records := &fakeRecordStore{bundles: map[string]*models.PatientBundle{"SP001": cardiacBundle()}}
	criteria := &fakeCriteriaStore{criteria: standardCriteria(), weights: models.DefaultScoringWeights()}
	audits := &fakeAuditSink{}
	service := newTestService(records, criteria, audits)

	results, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001"})
	if err != nil {
		t.Fatalf("EvaluateBatch: %v", err)
	}
	verdict := results["SP001"]
	if !verdict.Eligible {
		t.Fatalf("expected eligible: %+v", verdict)
	}
	if len(audits.audits) != 1 {
		t.Fatalf("expected one audit row, got %d", len(audits.audits))
	}
	audit := audits.audits[0]
	if audit.PatientID != "SP001" || audit.TrialID != 1 {
		t.Fatalf("audit identity: %+v", audit)
	}
	if audit.CriteriaMet != 2 || audit.CriteriaTotal != 2 {
		t.Fatalf("audit counters: %+v", audit)
	}
}

func TestEvaluateBatchNoCriteria(t *testing.T) {
	records := &fakeRecordStore{bundles: map[string]*models.PatientBundle{"SP001": cardiacBundle()}}
	criteria := &fakeCriteriaStore{weights: models.DefaultScoringWeights()}
	audits := &fakeAuditSink{}
	service := newTestService(records, criteria, audits)

	results, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001", "SP002"})
	if err != nil {
		t.Fatalf("EvaluateBatch: %v", err)
	}
	for _, pid := range []string{"SP001", "SP002"} {
		verdict := results[pid]
		if verdict.Eligible || verdict.Confidence != 0.0 {
			t.Fatalf("%s: %+v", pid, verdict)
		}
		if verdict.Reasons == nil || verdict.Reasons.Error != "No eligibility criteria defined for trial" {
			t.Fatalf("%s error reason: %+v", pid, verdict.Reasons)
		}
	}
	if len(audits.audits) != 0 {
		t.Fatal("error verdicts must not be audited")
	}
}

func TestEvaluateBatchPatientNotFound(t *testing.T) {
	records := &fakeRecordStore{bundles: map[string]*models.PatientBundle{"SP001": cardiacBundle()}}
	criteria := &fakeCriteriaStore{criteria: standardCriteria(), weights: models.DefaultScoringWeights()}
	audits := &fakeAuditSink{}
	service := newTestService(records, criteria, audits)

	results, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001", "GHOST"})
	if err != nil {
		t.Fatalf("EvaluateBatch: %v", err)
	}
	if !results["SP001"].Eligible {
		t.Fatalf("known patient: %+v", results["SP001"])
	}
	ghost := results["GHOST"]
	if ghost.Eligible || ghost.Reasons == nil || ghost.Reasons.Error != "Patient not found" {
		t.Fatalf("ghost verdict: %+v", ghost)
	}
	if len(audits.audits) != 1 {
		t.Fatalf("only the found patient is audited, got %d rows", len(audits.audits))
	}
}

func TestEvaluateBatchStoreFailureAborts(t *testing.T) {
	records := &fakeRecordStore{err: errors.New("connection refused")}
	criteria := &fakeCriteriaStore{criteria: standardCriteria(), weights: models.DefaultScoringWeights()}
	service := newTestService(records, criteria, &fakeAuditSink{})

	if _, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001"}); err == nil {
		t.Fatal("record store failure must abort the batch")
	}

	criteria.err = errors.New("criteria table gone")
	service = newTestService(&fakeRecordStore{}, criteria, &fakeAuditSink{})
	if _, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001"}); err == nil {
		t.Fatal("criteria store failure must abort the batch")
	}
}

func TestEvaluateBatchAuditFailureTolerated(t *testing.T) {
	records := &fakeRecordStore{bundles: map[string]*models.PatientBundle{"SP001": cardiacBundle()}}
	criteria := &fakeCriteriaStore{criteria: standardCriteria(), weights: models.DefaultScoringWeights()}
	audits := &fakeAuditSink{err: errors.New("audit table locked")}
	service := newTestService(records, criteria, audits)

	results, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001"})
	if err != nil {
		t.Fatalf("audit failure must not fail the batch: %v", err)
	}
	if !results["SP001"].Eligible {
		t.Fatalf("verdict unaffected by audit failure: %+v", results["SP001"])
	}
}

func TestEvaluateSinglePatientMatchesBatch(t *testing.T) {
	records := &fakeRecordStore{bundles: map[string]*models.PatientBundle{"SP001": cardiacBundle()}}
	criteria := &fakeCriteriaStore{criteria: standardCriteria(), weights: models.DefaultScoringWeights()}
	service := newTestService(records, criteria, &fakeAuditSink{})

	single, err := service.Evaluate(context.Background(), 1, "SP001")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	batch, err := service.EvaluateBatch(context.Background(), 1, []string{"SP001"})
	if err != nil {
		t.Fatalf("EvaluateBatch: %v", err)
	}
	if single.Confidence != batch["SP001"].Confidence || single.Status != batch["SP001"].Status {
		t.Fatalf("single %+v != batch %+v", single, batch["SP001"])
	}
}
