package screening

import (
	"testing"
	"time"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

var fixedNow = time.Date(2023, 10, 15, 12, 0, 0, 0, time.UTC)

func testEvaluator() *Evaluator {
	e := NewEvaluator(nil)
	e.now = func() time.Time { return fixedNow }
	return e
}

func datePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func cardiacBundle() *models.PatientBundle {
	return &models.PatientBundle{
		Patient: models.Patient{
			ID:        "SP001",
			Birthdate: datePtr(1968, 3, 12),
			Gender:    "M",
		},
		Conditions: []models.Condition{
			{Code: "22298006", Description: "Acute myocardial infarction", Scope: "personal"},
			{Description: "Congestive heart failure", Scope: "personal"},
		},
		Medications: []models.Medication{
			{Description: "Lisinopril 10 MG Oral Tablet"},
			{Description: "Metoprolol succinate 50 MG"},
		},
		Observations: []models.Observation{
			{Description: "Left ventricular ejection fraction", Value: "40", Units: "%", ObservationDate: datePtr(2023, 9, 1)},
			{Description: "BNP", Value: "500", Units: "pg/mL", ObservationDate: datePtr(2023, 9, 1)},
			{Description: "Systolic blood pressure", Value: "120", Units: "mmHg", ObservationDate: datePtr(2023, 9, 1)},
			{Description: "Body Weight", Value: "88", Units: "kg", ObservationDate: datePtr(2023, 8, 1)},
			{Description: "EKG 12-lead", Value: "Normal sinus rhythm", ObservationDate: datePtr(2023, 7, 1)},
		},
		Allergies: []models.Allergy{
			{Description: "Penicillin allergy", Category: "medication", Reaction1: "hives"},
		},
		Immunizations: []models.Immunization{
			{Description: "Influenza, seasonal, injectable"},
		},
	}
}

func TestEvaluateAge(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{ID: 1, Category: "AGE", Operator: ">=", Value: "18"})
	if result.Status != models.StatusMet || result.Confidence != 1.0 {
		t.Fatalf("age >= 18: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{ID: 2, Category: "AGE", Operator: "BETWEEN", Value: "18-65"})
	if result.Status != models.StatusMet {
		t.Fatalf("age between 18-65: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{ID: 3, Category: "AGE", Operator: "<", Value: "50"})
	if result.Status != models.StatusNotMet {
		t.Fatalf("age < 50 should fail for a 55 year old: %+v", result)
	}

	// Strict bounds: > 55 means 56 or older.
	result = e.Evaluate(bundle, models.Criterion{ID: 4, Category: "AGE", Operator: ">", Value: "55"})
	if result.Status != models.StatusNotMet {
		t.Fatalf("age > 55 should fail at exactly 55: %+v", result)
	}

	noBirthdate := &models.PatientBundle{Patient: models.Patient{ID: "SP002"}}
	result = e.Evaluate(noBirthdate, models.Criterion{ID: 5, Category: "AGE", Operator: ">=", Value: "18"})
	if result.Status != models.StatusNotMet || result.Confidence != 1.0 {
		t.Fatalf("missing birthdate: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{ID: 6, Category: "AGE", Operator: ">=", Value: "abc"})
	if result.Status != models.StatusMissingData {
		t.Fatalf("unparseable age threshold: %+v", result)
	}
}

func TestEvaluateWeight(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{ID: 1, Category: "WEIGHT", Operator: ">=", Value: "50"})
	if result.Status != models.StatusMet || result.Confidence != 0.95 {
		t.Fatalf("weight >= 50: %+v", result)
	}

	empty := &models.PatientBundle{Patient: models.Patient{ID: "SP003"}}
	result = e.Evaluate(empty, models.Criterion{ID: 2, Category: "WEIGHT", Operator: ">=", Value: "50"})
	if result.Status != models.StatusMissingData {
		t.Fatalf("no weight observation: %+v", result)
	}
}

func TestEvaluateEKG(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{ID: 1, Category: "EKG", Text: "Normal EKG at screening"})
	if result.Status != models.StatusMet || result.Confidence != 0.85 {
		t.Fatalf("qualitative normal EKG: %+v", result)
	}

	numeric := cardiacBundle()
	numeric.Observations = []models.Observation{
		{Description: "ECG QTc interval", Value: "430", Units: "ms", ObservationDate: datePtr(2023, 9, 1)},
	}
	result = e.Evaluate(numeric, models.Criterion{ID: 2, Category: "EKG", Operator: "<=", Value: "450"})
	if result.Status != models.StatusMet || result.Confidence != 0.9 {
		t.Fatalf("numeric EKG: %+v", result)
	}
}

func TestEvaluateCondition(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	// Exact code match, full confidence.
	result := e.Evaluate(bundle, models.Criterion{
		ID: 1, Category: "CONDITION_PRESENT", Type: models.CriterionInclusion,
		Text: "Documented myocardial infarction", Value: "22298006",
	})
	if result.Status != models.StatusMet || result.Confidence != 1.0 {
		t.Fatalf("code match: %+v", result)
	}

	// Description containment downgraded to 0.8.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 2, Category: "DIAGNOSIS", Type: models.CriterionInclusion,
		Text: "Diagnosis of heart failure", Value: "heart failure",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.8 {
		t.Fatalf("description match: %+v", result)
	}

	// Family scope must not match personal records.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 3, Category: "MEDICAL_HISTORY", Type: models.CriterionInclusion,
		Text: "Family history of cardiomyopathy", Value: "cardiomyopathy", Scope: "family",
	})
	if result.Status == models.StatusMet {
		t.Fatalf("family scope leaked into personal records: %+v", result)
	}

	// Vague exclusion auto-passes.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 4, Category: "CONDITION_PRESENT", Type: models.CriterionExclusion,
		Text: "Any other condition that in the opinion of the investigator",
	})
	if result.Status != models.StatusNotMet || result.Confidence != 0.5 {
		t.Fatalf("vague exclusion: %+v", result)
	}

	// operator=NO searches for the underlying condition.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 5, Category: "CONDITION_PRESENT", Type: models.CriterionExclusion,
		Text: "No history of acute myocardial infarction", Operator: "NO",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.8 {
		t.Fatalf("negated phrasing should find the condition: %+v", result)
	}
}

func TestEvaluateConditionAbsent(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{
		ID: 1, Category: "CONDITION_ABSENT", Type: models.CriterionExclusion,
		Text: "Active hepatic cirrhosis disease",
	})
	if result.Status != models.StatusNotMet {
		t.Fatalf("absent condition should not fire: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{
		ID: 2, Category: "CONDITION_ABSENT", Type: models.CriterionExclusion,
		Text: "Known acute myocardial infarction history",
	})
	if result.Status != models.StatusMet {
		t.Fatalf("present condition should fire the exclusion: %+v", result)
	}
}

func TestEvaluateMedication(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{
		ID: 1, Category: "MEDICATION", Type: models.CriterionInclusion,
		Text: "On ACE inhibitor therapy", Value: "lisinopril",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.85 {
		t.Fatalf("single drug: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{
		ID: 2, Category: "MEDICATION_HISTORY", Type: models.CriterionExclusion,
		Text: "Current use of anticoagulants",
		Structured: &models.StructuredData{
			ValueList: []string{"warfarin", "apixaban", "rivaroxaban"},
		},
	})
	if result.Status != models.StatusNotMet {
		t.Fatalf("no anticoagulants present: %+v", result)
	}

	// Negated: met when none of the drugs are present.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 3, Category: "DRUG", Type: models.CriterionInclusion,
		Text: "Not on anticoagulants", Operator: "NO",
		Structured: &models.StructuredData{
			ValueList: []string{"warfarin", "apixaban"},
		},
	})
	if result.Status != models.StatusMet {
		t.Fatalf("negated medication: %+v", result)
	}
}

func TestEvaluateLab(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{
		ID: 1, Category: "LAB_THRESHOLD", Type: models.CriterionInclusion,
		Text: "BNP > 100 pg/mL", Operator: ">", Value: "100",
		Structured: &models.StructuredData{Variable: "BNP"},
	})
	if result.Status != models.StatusMet || result.Confidence != 0.95 {
		t.Fatalf("BNP threshold: %+v", result)
	}
	if result.Observed == nil || result.Observed.Value != 500 {
		t.Fatalf("observed value not reported: %+v", result.Observed)
	}

	// Temporal window excludes stale observations.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 2, Category: "VITAL_SIGN", Type: models.CriterionInclusion,
		Text: "Ejection fraction >= 35 within one month", Operator: ">=", Value: "35",
		Structured: &models.StructuredData{
			Variable: "ejection fraction",
			Temporal: &models.TemporalWindow{WindowMonths: 1},
		},
	})
	if result.Status != models.StatusMissingData {
		t.Fatalf("stale observation should be missing_data: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{
		ID: 3, Category: "LAB", Type: models.CriterionInclusion,
		Text: "Ejection fraction >= 35", Operator: ">=", Value: "35",
		Structured: &models.StructuredData{Variable: "ejection fraction"},
	})
	if result.Status != models.StatusMet {
		t.Fatalf("ejection fraction without window: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{
		ID: 4, Category: "LAB_RESULT", Type: models.CriterionInclusion,
		Text: "Serum creatinine < 2.0", Operator: "<", Value: "2.0",
		Structured: &models.StructuredData{Variable: "creatinine"},
	})
	if result.Status != models.StatusMissingData {
		t.Fatalf("missing lab should be missing_data: %+v", result)
	}

	// Negative thresholds and observed values keep their sign.
	osteo := cardiacBundle()
	osteo.Observations = append(osteo.Observations, models.Observation{
		Description: "Bone density T-score", Value: "-3.0", ObservationDate: datePtr(2023, 9, 1),
	})
	result = e.Evaluate(osteo, models.Criterion{
		ID: 5, Category: "LAB_THRESHOLD", Type: models.CriterionExclusion,
		Text: "T-score < -2.5", Operator: "<", Value: "-2.5",
		Structured: &models.StructuredData{Variable: "t-score"},
	})
	if result.Status != models.StatusMet {
		t.Fatalf("negative threshold: %+v", result)
	}
	if result.Observed == nil || result.Observed.Value != -3.0 {
		t.Fatalf("observed sign lost: %+v", result.Observed)
	}
}

func TestEvaluateAllergyAndImmunization(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{
		ID: 1, Category: "ALLERGY", Type: models.CriterionExclusion,
		Text: "Known hypersensitivity to penicillin", Value: "penicillin",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.9 {
		t.Fatalf("allergy: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{
		ID: 2, Category: "IMMUNIZATION", Type: models.CriterionInclusion,
		Text: "Seasonal influenza vaccination", Value: "influenza",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.85 {
		t.Fatalf("immunization: %+v", result)
	}
}

func TestEvaluatePregnancyAndContraception(t *testing.T) {
	e := testEvaluator()
	male := cardiacBundle()

	result := e.Evaluate(male, models.Criterion{
		ID: 1, Category: "PREGNANCY_EXCLUSION", Type: models.CriterionExclusion,
		Text: "Female subjects who are pregnant",
	})
	if result.Status != models.StatusNotMet || result.Confidence != 1.0 {
		t.Fatalf("pregnancy exclusion for male: %+v", result)
	}

	female := &models.PatientBundle{
		Patient: models.Patient{ID: "SP010", Gender: "F", Birthdate: datePtr(1990, 5, 1)},
		Conditions: []models.Condition{
			{Description: "Normal pregnancy", Scope: "personal"},
		},
	}
	result = e.Evaluate(female, models.Criterion{
		ID: 2, Category: "PREGNANCY_EXCLUSION", Type: models.CriterionExclusion,
		Text: "Pregnant or breastfeeding",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.9 {
		t.Fatalf("pregnant patient should fire the exclusion: %+v", result)
	}

	// Contraception auto-passes for males.
	result = e.Evaluate(male, models.Criterion{
		ID: 3, Category: "CONTRACEPTION", Type: models.CriterionInclusion,
		Text: "Willing to use adequate contraception",
	})
	if result.Status != models.StatusMet || !result.Administrative {
		t.Fatalf("contraception for male: %+v", result)
	}

	// Females need a negative pregnancy test on file.
	femaleTested := &models.PatientBundle{
		Patient: models.Patient{ID: "SP011", Gender: "F"},
		Observations: []models.Observation{
			{Description: "Serum pregnancy test", Value: "Negative", ObservationDate: datePtr(2023, 10, 1)},
		},
	}
	result = e.Evaluate(femaleTested, models.Criterion{
		ID: 4, Category: "CONTRACEPTION", Type: models.CriterionInclusion,
		Text: "Willing to use adequate contraception",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.95 {
		t.Fatalf("contraception with negative test: %+v", result)
	}
}

func TestEvaluateConsentAndFallback(t *testing.T) {
	e := testEvaluator()
	bundle := cardiacBundle()

	result := e.Evaluate(bundle, models.Criterion{
		ID: 1, Category: "CONSENT_REQUIREMENT", Type: models.CriterionInclusion,
		Text: "Able to provide written informed consent",
	})
	if result.Status != models.StatusMet || !result.Administrative || result.Confidence != 1.0 {
		t.Fatalf("consent: %+v", result)
	}

	// Unknown category falls back to keyword search.
	result = e.Evaluate(bundle, models.Criterion{
		ID: 2, Category: "LIFESTYLE", Type: models.CriterionInclusion,
		Text: "myocardial infarction documented",
	})
	if result.Status != models.StatusMet || result.Confidence != 0.6 {
		t.Fatalf("fallback keyword hit: %+v", result)
	}

	result = e.Evaluate(bundle, models.Criterion{
		ID: 3, Category: "SUBSTANCE_USE", Type: models.CriterionInclusion,
		Text: "alcohol consumption within limits",
	})
	if result.Status != models.StatusMissingData || result.Confidence != 0.0 {
		t.Fatalf("fallback miss should be missing_data: %+v", result)
	}
}
