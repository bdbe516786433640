package models

import (
	"time"

	"github.com/google/uuid"
)

// Clinical record models
type Patient struct {
	ID             string     `json:"id"`
	Birthdate      *time.Time `json:"birthdate,omitempty"`
	Gender         string     `json:"gender,omitempty"` // M / F
	Race           string     `json:"race,omitempty"`
	Ethnicity      string     `json:"ethnicity,omitempty"`
	City           string     `json:"city,omitempty"`
	State          string     `json:"state,omitempty"`
	AgeGroup       string     `json:"age_group,omitempty"`
	IsDeidentified bool       `json:"is_deidentified,omitempty"`
}

type Condition struct {
	Code        string     `json:"code,omitempty"`
	Description string     `json:"description"`
	Scope       string     `json:"scope,omitempty"` // personal / family
	StartDate   *time.Time `json:"start_date,omitempty"`
}

type Medication struct {
	Code        string     `json:"code,omitempty"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"start_date,omitempty"`
}

type Observation struct {
	Code            string     `json:"code,omitempty"`
	Description     string     `json:"description"`
	Value           string     `json:"value,omitempty"` // may carry a comparator prefix, e.g. "<50"
	Units           string     `json:"units,omitempty"`
	ObservationDate *time.Time `json:"observation_date,omitempty"`
}

type Allergy struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
	AllergyType string `json:"type,omitempty"`     // allergy, adverse reaction
	Category    string `json:"category,omitempty"` // medication, food, environment
	Reaction1   string `json:"reaction1,omitempty"`
	Severity1   string `json:"severity1,omitempty"`
	Reaction2   string `json:"reaction2,omitempty"`
	Severity2   string `json:"severity2,omitempty"`
}

type Immunization struct {
	Code             string     `json:"code,omitempty"`
	Description      string     `json:"description"`
	ImmunizationDate *time.Time `json:"immunization_date,omitempty"`
}

// PatientBundle aggregates every record type for one patient. Bundles are
// built fresh per evaluation run and never shared across trials.
type PatientBundle struct {
	Patient       Patient        `json:"patient"`
	Conditions    []Condition    `json:"conditions"`
	Medications   []Medication   `json:"medications"`
	Observations  []Observation  `json:"observations"`
	Allergies     []Allergy      `json:"allergies"`
	Immunizations []Immunization `json:"immunizations"`
}

// Eligibility criteria
type CriterionType string

const (
	CriterionInclusion CriterionType = "inclusion"
	CriterionExclusion CriterionType = "exclusion"
)

// TemporalWindow restricts observation matching to a trailing window.
type TemporalWindow struct {
	WindowMonths int `json:"window"`
}

// StructuredData carries the optional fields the extraction agent emits
// alongside a criterion. Extra holds agent metadata that has not been
// promoted to a first-class field yet.
type StructuredData struct {
	Field     string                 `json:"field,omitempty"`
	Variable  string                 `json:"variable,omitempty"`
	Entity    string                 `json:"entity,omitempty"`
	ValueList []string               `json:"value_list,omitempty"`
	Negated   bool                   `json:"negated,omitempty"`
	AppliesTo string                 `json:"applies_to,omitempty"`
	Temporal  *TemporalWindow        `json:"temporal,omitempty"`
	Children  *GroupNode             `json:"children,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Criterion is one structured eligibility rule extracted from protocol
// text. Criteria are immutable during matching.
type Criterion struct {
	ID          int64           `json:"id"`
	TrialID     int64           `json:"trial_id,omitempty"`
	CriterionID string          `json:"criterion_id,omitempty"` // protocol label, e.g. "INC-01"
	Type        CriterionType   `json:"criterion_type"`
	Text        string          `json:"text"`
	Category    string          `json:"category"`
	Operator    string          `json:"operator,omitempty"` // >, >=, <, <=, ==, BETWEEN, NO
	Value       string          `json:"value,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Negated     bool            `json:"negated,omitempty"`
	Scope       string          `json:"scope,omitempty"` // personal / family
	GroupID     string          `json:"group_id,omitempty"`
	GroupLogic  string          `json:"group_logic,omitempty"` // AND / OR
	Structured  *StructuredData `json:"structured_data,omitempty"`
}

// GroupNode is a compound criterion: AND/OR logic over children that are
// either stored-criterion references, inline criteria, or nested groups.
type GroupNode struct {
	Logic    string       `json:"logic,omitempty"` // AND (default) / OR
	Children []GroupChild `json:"children,omitempty"`
}

type GroupChild struct {
	Ref       int64      `json:"ref,omitempty"` // id of a stored criterion
	Group     *GroupNode `json:"group,omitempty"`
	Criterion *Criterion `json:"criterion,omitempty"`
}

// Evaluation results
type MatchStatus string

const (
	StatusMet         MatchStatus = "met"
	StatusNotMet      MatchStatus = "not_met"
	StatusMissingData MatchStatus = "missing_data"
)

type ObservedValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Date  string  `json:"date,omitempty"`
}

type CriterionResult struct {
	CriterionID    int64             `json:"criterion_id,omitempty"`
	Status         MatchStatus       `json:"status"`
	Confidence     float64           `json:"confidence"`
	Administrative bool              `json:"administrative,omitempty"`
	Text           string            `json:"text,omitempty"`
	Logic          string            `json:"logic,omitempty"` // set on compound results
	Children       []CriterionResult `json:"child_results,omitempty"`
	Observed       *ObservedValue    `json:"observed,omitempty"`
}

// Verdict tiers
const (
	VerdictIneligible          = "INELIGIBLE"
	VerdictHighlyEligible      = "HIGHLY ELIGIBLE"
	VerdictPotentiallyEligible = "POTENTIALLY ELIGIBLE"
	VerdictNeedsReview         = "UNCERTAIN / NEEDS REVIEW"
)

type CriterionDetail struct {
	Text   string `json:"text"`
	Met    bool   `json:"met"`
	IsHard bool   `json:"is_hard,omitempty"`
}

// ScoreBreakdown is the reasons payload attached to every verdict. For
// error verdicts only Error is populated.
type ScoreBreakdown struct {
	Error                    string            `json:"error,omitempty"`
	ScoringWeights           ScoringWeights    `json:"scoring_weights,omitempty"`
	InclusionScore           float64           `json:"inclusion_score"`
	ExclusionScore           float64           `json:"exclusion_score"`
	DataCompleteness         float64           `json:"data_completeness"`
	NLPCertainty             float64           `json:"nlp_certainty"`
	HardExclusions           int               `json:"hard_exclusions"`
	SoftExclusions           int               `json:"soft_exclusions"`
	AdministrativeAutoPassed int               `json:"administrative_auto_passed"`
	InclusionDetails         []CriterionDetail `json:"inclusion_details,omitempty"`
	ExclusionDetails         []CriterionDetail `json:"exclusion_details,omitempty"`
	MissingData              []int64           `json:"missing_data,omitempty"`
}

type Verdict struct {
	Eligible   bool            `json:"eligible"`
	Confidence float64         `json:"confidence"`
	Status     string          `json:"status,omitempty"`
	Reasons    *ScoreBreakdown `json:"reasons,omitempty"`
}

// ScoringWeights is an immutable value; per-trial overrides are merged
// into a copy, never into shared state.
type ScoringWeights struct {
	Inclusion float64 `json:"inclusion"`
	Exclusion float64 `json:"exclusion"`
	Data      float64 `json:"data"`
	NLP       float64 `json:"nlp"`
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Inclusion: 0.50, Exclusion: 0.25, Data: 0.15, NLP: 0.10}
}

// Merge returns a copy with any override keys applied.
func (w ScoringWeights) Merge(overrides map[string]float64) ScoringWeights {
	merged := w
	for key, value := range overrides {
		switch key {
		case "inclusion":
			merged.Inclusion = value
		case "exclusion":
			merged.Exclusion = value
		case "data":
			merged.Data = value
		case "nlp":
			merged.NLP = value
		}
	}
	return merged
}

// Trials
type MatchingConfig struct {
	Weights map[string]float64 `json:"weights,omitempty"`
}

type Trial struct {
	ID             int64           `json:"id"`
	TrialID        string          `json:"trial_id"` // external registry identifier
	ProtocolTitle  string          `json:"protocol_title,omitempty"`
	Phase          string          `json:"phase,omitempty"`
	Indication     string          `json:"indication,omitempty"`
	DrugName       string          `json:"drug_name,omitempty"`
	Status         string          `json:"status,omitempty"`
	MatchingConfig *MatchingConfig `json:"matching_config,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EligibilityAudit is the append-only record written after each
// per-patient evaluation.
type EligibilityAudit struct {
	ID            int64     `json:"id"`
	TrialID       int64     `json:"trial_id"`
	PatientID     string    `json:"patient_id"`
	MatchedAt     time.Time `json:"matched_at"`
	Status        string    `json:"status"`
	Confidence    float64   `json:"confidence"`
	CriteriaMet   int       `json:"criteria_met"`
	CriteriaTotal int       `json:"criteria_total"`
	Details       *Verdict  `json:"details,omitempty"`
}

// ScreeningRun is an asynchronous batch evaluation job.
type ScreeningRun struct {
	ID            uuid.UUID  `json:"id"`
	TrialID       int64      `json:"trial_id"`
	PatientIDs    []string   `json:"patient_ids,omitempty"`
	Status        string     `json:"status"`
	ResultCount   int        `json:"result_count"`
	EligibleCount int        `json:"eligible_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RequestedBy   string     `json:"requested_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Event bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // record.ingested, screening.completed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Service request/response shapes
type RegisterPatientRequest struct {
	Source        string         `json:"source,omitempty"` // ehr, import, synthetic
	Patient       Patient        `json:"patient"`
	Conditions    []Condition    `json:"conditions,omitempty"`
	Medications   []Medication   `json:"medications,omitempty"`
	Observations  []Observation  `json:"observations,omitempty"`
	Allergies     []Allergy      `json:"allergies,omitempty"`
	Immunizations []Immunization `json:"immunizations,omitempty"`
}

type CreateTrialRequest struct {
	TrialID        string          `json:"trial_id"`
	ProtocolTitle  string          `json:"protocol_title,omitempty"`
	Phase          string          `json:"phase,omitempty"`
	Indication     string          `json:"indication,omitempty"`
	DrugName       string          `json:"drug_name,omitempty"`
	MatchingConfig *MatchingConfig `json:"matching_config,omitempty"`
}

type ReplaceCriteriaRequest struct {
	Criteria []Criterion `json:"criteria"`
}

type EvaluateRequest struct {
	TrialID   int64  `json:"trial_id"`
	PatientID string `json:"patient_id"`
}

type BatchEvaluateRequest struct {
	TrialID    int64    `json:"trial_id"`
	PatientIDs []string `json:"patient_ids"`
}

type ScreeningRunRequest struct {
	TrialID     int64    `json:"trial_id"`
	PatientIDs  []string `json:"patient_ids"`
	RequestedBy string   `json:"requested_by,omitempty"`
}
