package screening

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

func defaultWeights() models.ScoringWeights {
	return models.DefaultScoringWeights()
}

func TestScorePatientAllInclusionsMet(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Age 18 or older"},
		{ID: 2, Category: "CONDITION_PRESENT", Value: "22298006", Type: models.CriterionInclusion, Text: "Documented myocardial infarction"},
		{ID: 3, Category: "CONDITION_ABSENT", Text: "Active hepatic cirrhosis disease", Type: models.CriterionExclusion},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	verdict := outcome.Verdict

	if !verdict.Eligible {
		t.Fatalf("expected eligible: %+v", verdict)
	}
	if verdict.Status != models.VerdictHighlyEligible {
		t.Fatalf("status = %s, want %s", verdict.Status, models.VerdictHighlyEligible)
	}
	if verdict.Reasons.InclusionScore != 1.0 {
		t.Fatalf("inclusion score = %v", verdict.Reasons.InclusionScore)
	}
	if verdict.Reasons.ExclusionScore != 1.0 {
		t.Fatalf("exclusion score = %v", verdict.Reasons.ExclusionScore)
	}
	if outcome.CriteriaMet != 2 || outcome.CriteriaTotal != 3 {
		t.Fatalf("audit counters = %d/%d, want 2/3", outcome.CriteriaMet, outcome.CriteriaTotal)
	}
}

func TestScorePatientHardExclusionGate(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Age 18 or older"},
		{ID: 2, Category: "ALLERGY", Value: "penicillin", Type: models.CriterionExclusion, Text: "Known hypersensitivity to penicillin"},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	verdict := outcome.Verdict

	if verdict.Eligible {
		t.Fatal("hard exclusion must force ineligibility")
	}
	if verdict.Status != models.VerdictIneligible {
		t.Fatalf("status = %s, want %s", verdict.Status, models.VerdictIneligible)
	}
	if verdict.Confidence > 0.15 {
		t.Fatalf("confidence %v exceeds hard-exclusion cap", verdict.Confidence)
	}
	if verdict.Reasons.HardExclusions != 1 {
		t.Fatalf("hard exclusions = %d, want 1", verdict.Reasons.HardExclusions)
	}
	found := false
	for _, detail := range verdict.Reasons.ExclusionDetails {
		if detail.Met && detail.IsHard {
			found = true
		}
	}
	if !found {
		t.Fatalf("exclusion details missing hard flag: %+v", verdict.Reasons.ExclusionDetails)
	}
}

func TestScorePatientSoftExclusionPenalty(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	base := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Age 18 or older"},
	}
	withSoft := append(append([]models.Criterion{}, base...), models.Criterion{
		ID: 2, Category: "ALLERGY", Value: "penicillin", Type: models.CriterionExclusion,
		Text: "Relative contraindication: penicillin allergy preferred absent",
	})

	clean := e.ScorePatient(bundle, base, defaultWeights())
	soft := e.ScorePatient(bundle, withSoft, defaultWeights())

	if soft.Verdict.Status == models.VerdictIneligible {
		t.Fatal("soft exclusion must not trigger the hard gate")
	}
	if soft.Verdict.Reasons.SoftExclusions != 1 || soft.Verdict.Reasons.HardExclusions != 0 {
		t.Fatalf("soft/hard split wrong: %+v", soft.Verdict.Reasons)
	}
	if soft.Verdict.Confidence >= clean.Verdict.Confidence {
		t.Fatalf("soft exclusion should lower confidence: %v >= %v", soft.Verdict.Confidence, clean.Verdict.Confidence)
	}
}

func TestScorePatientMissingDataLowersCompleteness(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Age 18 or older"},
		{ID: 2, Category: "LAB_THRESHOLD", Operator: "<", Value: "2.0", Type: models.CriterionInclusion,
			Text: "Serum creatinine < 2.0", Structured: &models.StructuredData{Variable: "creatinine"}},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	reasons := outcome.Verdict.Reasons

	if reasons.DataCompleteness != 0.5 {
		t.Fatalf("data completeness = %v, want 0.5", reasons.DataCompleteness)
	}
	if len(reasons.MissingData) != 1 || reasons.MissingData[0] != 2 {
		t.Fatalf("missing data ids = %v", reasons.MissingData)
	}
}

func TestScorePatientAdministrativeExcludedFromScoring(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Age 18 or older"},
		{ID: 2, Category: "CONSENT_REQUIREMENT", Type: models.CriterionInclusion, Text: "Able to consent"},
		{ID: 3, Category: "CONTRACEPTION", Type: models.CriterionInclusion, Text: "Adequate contraception"},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	reasons := outcome.Verdict.Reasons

	if reasons.AdministrativeAutoPassed != 2 {
		t.Fatalf("administrative count = %d, want 2", reasons.AdministrativeAutoPassed)
	}
	if outcome.CriteriaTotal != 1 {
		t.Fatalf("administrative criteria must not be scorable: total = %d", outcome.CriteriaTotal)
	}
	if len(reasons.InclusionDetails) != 1 {
		t.Fatalf("inclusion details = %+v", reasons.InclusionDetails)
	}
}

func TestScorePatientGroupEvaluatedOnce(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion,
			Text: "Age 18 or older", GroupID: "g1", GroupLogic: "OR"},
		{ID: 2, Category: "MEDICATION", Value: "warfarin", Type: models.CriterionInclusion,
			Text: "On warfarin", GroupID: "g1", GroupLogic: "OR"},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	reasons := outcome.Verdict.Reasons

	if len(reasons.InclusionDetails) != 1 {
		t.Fatalf("group should produce exactly one scored entry: %+v", reasons.InclusionDetails)
	}
	if !reasons.InclusionDetails[0].Met {
		t.Fatalf("OR group with met age child: %+v", reasons.InclusionDetails[0])
	}
	if !strings.HasPrefix(reasons.InclusionDetails[0].Text, "Compound (OR)") {
		t.Fatalf("compound text: %q", reasons.InclusionDetails[0].Text)
	}
}

func TestCompoundTextTruncatesByRune(t *testing.T) {
	members := []models.Criterion{
		{Text: strings.Repeat("µ", 40)},
	}
	got := compoundText("AND", members)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if want := "Compound (AND): " + strings.Repeat("µ", 30); got != want {
		t.Fatalf("compoundText = %q, want %q", got, want)
	}
}

func TestScorePatientWeightOverrides(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: "<", Value: "30", Type: models.CriterionInclusion, Text: "Age under 30"},
		{ID: 2, Category: "CONDITION_ABSENT", Text: "Active hepatic cirrhosis disease", Type: models.CriterionExclusion},
	}

	balanced := e.ScorePatient(bundle, criteria, defaultWeights())
	inclusionHeavy := e.ScorePatient(bundle, criteria, defaultWeights().Merge(map[string]float64{
		"inclusion": 0.90, "exclusion": 0.05, "data": 0.03, "nlp": 0.02,
	}))

	// The failed inclusion weighs more under the override.
	if inclusionHeavy.Verdict.Confidence >= balanced.Verdict.Confidence {
		t.Fatalf("override should lower confidence: %v >= %v",
			inclusionHeavy.Verdict.Confidence, balanced.Verdict.Confidence)
	}
}

func TestScorePatientCardiologyScenario(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()
	bundle.Observations = append(bundle.Observations,
		models.Observation{Description: "eGFR", Value: "60", Units: "mL/min", ObservationDate: datePtr(2023, 9, 1)},
		models.Observation{Description: "ALT", Value: "20", Units: "U/L", ObservationDate: datePtr(2023, 9, 1)},
	)

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: "BETWEEN", Value: "18-75", Type: models.CriterionInclusion, Text: "Age 18 to 75"},
		{ID: 2, Category: "CONDITION_PRESENT", Value: "22298006", Type: models.CriterionInclusion, Text: "Documented acute myocardial infarction"},
		{ID: 3, Category: "LAB_THRESHOLD", Operator: ">=", Value: "35", Type: models.CriterionInclusion,
			Text: "LVEF >= 35%", Structured: &models.StructuredData{Variable: "ejection fraction"}},
		{ID: 4, Category: "LAB_THRESHOLD", Operator: ">", Value: "100", Type: models.CriterionInclusion,
			Text: "BNP > 100 pg/mL", Structured: &models.StructuredData{Variable: "bnp"}},
		{ID: 5, Category: "LAB_THRESHOLD", Operator: ">=", Value: "30", Type: models.CriterionInclusion,
			Text: "eGFR >= 30", Structured: &models.StructuredData{Variable: "egfr"}},
		{ID: 6, Category: "LAB_THRESHOLD", Operator: "<", Value: "120", Type: models.CriterionInclusion,
			Text: "ALT < 120", Structured: &models.StructuredData{Variable: "alt"}},
		{ID: 7, Category: "CONSENT_REQUIREMENT", Type: models.CriterionInclusion, Text: "Able to consent"},
		{ID: 8, Category: "PREGNANCY_EXCLUSION", Type: models.CriterionExclusion, Text: "Pregnant female subjects"},
		{ID: 9, Category: "CONDITION_ABSENT", Text: "Severe chronic obstructive pulmonary disease", Type: models.CriterionExclusion},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	verdict := outcome.Verdict

	if !verdict.Eligible {
		t.Fatalf("cardiology patient should be eligible: %+v", verdict.Reasons)
	}
	if verdict.Status != models.VerdictHighlyEligible {
		t.Fatalf("status = %s", verdict.Status)
	}
	if verdict.Reasons.InclusionScore != 1.0 {
		t.Fatalf("inclusion score = %v, details %+v", verdict.Reasons.InclusionScore, verdict.Reasons.InclusionDetails)
	}
	if verdict.Reasons.HardExclusions != 0 {
		t.Fatalf("unexpected hard exclusions: %+v", verdict.Reasons.ExclusionDetails)
	}
}

func TestScorePatientRounding(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	criteria := []models.Criterion{
		{ID: 1, Category: "AGE", Operator: ">=", Value: "18", Type: models.CriterionInclusion, Text: "Adult"},
		{ID: 2, Category: "MEDICATION", Value: "lisinopril", Type: models.CriterionInclusion, Text: "On lisinopril"},
		{ID: 3, Category: "AGE", Operator: "<", Value: "30", Type: models.CriterionInclusion, Text: "Under 30"},
	}

	outcome := e.ScorePatient(bundle, criteria, defaultWeights())
	verdict := outcome.Verdict

	// Every reported number carries at most three decimal places.
	for name, v := range map[string]float64{
		"confidence":        verdict.Confidence,
		"inclusion_score":   verdict.Reasons.InclusionScore,
		"nlp_certainty":     verdict.Reasons.NLPCertainty,
		"data_completeness": verdict.Reasons.DataCompleteness,
	} {
		if v != round3(v) {
			t.Fatalf("%s = %v not rounded to 3 decimals", name, v)
		}
	}
}
