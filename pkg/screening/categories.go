package screening

import (
	"strconv"
	"strings"
	"time"

	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
)

// Evaluator applies one criterion to one patient bundle. It is
// stateless apart from the lexicon and the clock, so a single instance
// is shared across goroutines.
type Evaluator struct {
	lexicon *Lexicon
	now     func() time.Time
}

func NewEvaluator(lexicon *Lexicon) *Evaluator {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Evaluator{lexicon: lexicon, now: time.Now}
}

func isAdministrativeCategory(category string) bool {
	return category == "CONSENT_REQUIREMENT" || category == "CONTRACEPTION"
}

func statusOf(met bool) models.MatchStatus {
	if met {
		return models.StatusMet
	}
	return models.StatusNotMet
}

// Evaluate never fails: any panic from malformed criterion data is
// downgraded to a missing_data result so one bad criterion cannot sink
// a batch.
func (e *Evaluator) Evaluate(bundle *models.PatientBundle, crit models.Criterion) (result models.CriterionResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(map[string]interface{}{
				"criterion_id": crit.ID,
				"category":     crit.Category,
				"panic":        r,
			}).Warn("criterion evaluation recovered")
			result = models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}
		}
	}()

	structured := crit.Structured
	if structured == nil {
		structured = &models.StructuredData{}
	}

	switch category := strings.ToUpper(crit.Category); category {
	case "AGE":
		return e.evaluateAge(bundle, crit)
	case "WEIGHT":
		return e.evaluateNumericObservation(bundle, crit, []string{"weight", "body weight"}, 0.95, ">")
	case "EKG":
		return e.evaluateEKG(bundle, crit)
	case "CONDITION_PRESENT", "DIAGNOSIS", "MEDICAL_HISTORY", "HISTORY":
		return e.evaluateCondition(bundle, crit, structured, category)
	case "CONDITION_ABSENT":
		search := structured.Field
		if search == "" {
			search = crit.Text
		}
		found := e.lexicon.MatchKeywords(bundle, search, 3)
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(found), Confidence: 0.8}
	case "MEDICATION", "MEDICATION_HISTORY", "DRUG":
		return e.evaluateMedication(bundle, crit, structured)
	case "LAB", "LAB_THRESHOLD", "LAB_RESULT", "VITAL_SIGN", "MEASUREMENT", "OBSERVATION", "VITALS":
		return e.evaluateLab(bundle, crit, structured)
	case "ALLERGY", "HYPERSENSITIVITY", "CONTRAINDICATION":
		allergen := crit.Value
		if allergen == "" {
			allergen = crit.Text
		}
		met := matchAllergy(bundle.Allergies, allergen)
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: 0.9}
	case "IMMUNIZATION", "VACCINE", "VACCINATION":
		vaccine := crit.Value
		if vaccine == "" {
			vaccine = crit.Text
		}
		met := false
		if term := strings.ToLower(strings.TrimSpace(vaccine)); term != "" {
			for _, imm := range bundle.Immunizations {
				if strings.Contains(strings.ToLower(imm.Description), term) {
					met = true
					break
				}
			}
		}
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: 0.85}
	case "PREGNANCY_EXCLUSION", "GENDER":
		return e.evaluatePregnancy(bundle, crit)
	case "CONSENT_REQUIREMENT":
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMet, Confidence: 1.0, Administrative: true}
	case "CONTRACEPTION":
		return e.evaluateContraception(bundle, crit, structured)
	case "PROCEDURE_HISTORY":
		found := e.lexicon.MatchKeywords(bundle, crit.Text, 3)
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(found), Confidence: 0.7}
	default:
		return e.evaluateFallback(bundle, crit)
	}
}

func (e *Evaluator) evaluateAge(bundle *models.PatientBundle, crit models.Criterion) models.CriterionResult {
	missing := models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}
	if bundle.Patient.Birthdate == nil {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 1.0}
	}
	age := CalculateAge(*bundle.Patient.Birthdate, e.now())

	if strings.EqualFold(crit.Operator, "BETWEEN") && crit.Value != "" {
		low, high, err := parseAgeRange(crit.Value, crit.Unit)
		if err != nil {
			return missing
		}
		met := age >= low && age <= high
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: 1.0}
	}

	threshold, err := ParseNumericValue(crit.Value)
	if err != nil {
		return missing
	}
	bound := int(threshold)
	op := crit.Operator
	if op == "" {
		op = ">"
	}
	var met bool
	switch op {
	case ">=":
		met = age >= bound
	case "<=":
		met = age <= bound
	case ">":
		met = age >= bound+1
	case "<":
		met = age <= bound-1
	default:
		met = false
	}
	return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: 1.0}
}

// parseAgeRange accepts "18-65" in value, or the low bound in value and
// the high bound in unit. An absent high bound is open-ended.
func parseAgeRange(value, unit string) (int, int, error) {
	if strings.Contains(value, "-") {
		parts := strings.SplitN(value, "-", 2)
		low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return 0, 0, err
		}
		high := 999.0
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			high, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err != nil {
				return 0, 0, err
			}
		}
		return int(low), int(high), nil
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, 0, err
	}
	high := 999.0
	if trimmed := strings.TrimSpace(unit); trimmed != "" {
		if parsed, perr := strconv.ParseFloat(trimmed, 64); perr == nil {
			high = parsed
		}
	}
	return int(low), int(high), nil
}

func (e *Evaluator) evaluateNumericObservation(bundle *models.PatientBundle, crit models.Criterion, searchTerms []string, confidence float64, defaultOp string) models.CriterionResult {
	missing := models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}
	obs := findObservation(bundle.Observations, searchTerms)
	if obs == nil {
		return missing
	}
	observed, err := ParseNumericValue(obs.Value)
	if err != nil {
		return missing
	}
	op := crit.Operator
	if op == "" {
		op = defaultOp
	}
	met, err := CompareValues(observed, op, crit.Value)
	if err != nil {
		return missing
	}
	return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: confidence}
}

func (e *Evaluator) evaluateEKG(bundle *models.PatientBundle, crit models.Criterion) models.CriterionResult {
	obs := findObservation(bundle.Observations, []string{"ekg", "ecg", "electrocardiogram"})
	if obs == nil {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}
	}
	observed, err := ParseNumericValue(obs.Value)
	if err == nil && crit.Value != "" {
		op := crit.Operator
		if op == "" {
			op = "<="
		}
		met, cmpErr := CompareValues(observed, op, crit.Value)
		if cmpErr != nil {
			return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}
		}
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: 0.9}
	}
	// Qualitative readings: "Normal sinus rhythm" satisfies the check.
	if strings.Contains(strings.ToLower(obs.Value), "normal") {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMet, Confidence: 0.85}
	}
	return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 0.7}
}

func (e *Evaluator) evaluateCondition(bundle *models.PatientBundle, crit models.Criterion, structured *models.StructuredData, category string) models.CriterionResult {
	if e.lexicon.IsVagueExclusion(crit.Text) {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 0.5}
	}

	// operator=NO phrases the criterion as "No history of X": the
	// search targets X itself, and a hit means the exclusion fires.
	if strings.EqualFold(crit.Operator, "NO") {
		search := structured.Field
		if search == "" {
			search = crit.Text
		}
		search, _ = e.lexicon.StripNegation(search)
		found := e.lexicon.MatchKeywords(bundle, search, 3)
		return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(found), Confidence: 0.8}
	}

	met := false
	confidence := 1.0
	scope := crit.Scope
	if scope == "" {
		scope = "personal"
	}

	if crit.Value != "" {
		met = matchConditionCode(bundle.Conditions, crit.Value, scope)
		if !met {
			term := strings.ToLower(crit.Value)
			for _, c := range bundle.Conditions {
				cScope := c.Scope
				if cScope == "" {
					cScope = "personal"
				}
				if cScope == scope && strings.Contains(strings.ToLower(c.Description), term) {
					met = true
					confidence = 0.8
					break
				}
			}
		}
	}

	if !met && category == "MEDICAL_HISTORY" {
		// History criteria sometimes manifest only as a prescription,
		// e.g. "history of hypertension" with lisinopril on the list.
		var medsText strings.Builder
		for _, m := range bundle.Medications {
			medsText.WriteString(strings.ToLower(m.Description))
			medsText.WriteString(" ")
		}
		terms := longTokens(crit.Text, 4, 5)
		for _, term := range terms {
			if strings.Contains(medsText.String(), term) {
				met = true
				confidence = 0.7
				break
			}
		}
	}

	if !met {
		minOverlap := 2
		if crit.Type == models.CriterionExclusion {
			minOverlap = 3
		}
		if e.lexicon.MatchKeywords(bundle, crit.Text, minOverlap) {
			met = true
			confidence = 0.7
		}
	}

	return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: confidence}
}

func matchConditionCode(conditions []models.Condition, code, scope string) bool {
	for _, c := range conditions {
		cScope := c.Scope
		if cScope == "" {
			cScope = "personal"
		}
		if c.Code == code && cScope == scope {
			return true
		}
	}
	return false
}

// longTokens extracts up to max words of at least minLen letters,
// preserving order.
func longTokens(text string, minLen, max int) []string {
	var tokens []string
	current := strings.Builder{}
	flush := func() {
		if current.Len() >= minLen && len(tokens) < max {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func (e *Evaluator) evaluateMedication(bundle *models.PatientBundle, crit models.Criterion, structured *models.StructuredData) models.CriterionResult {
	if e.lexicon.IsVagueExclusion(crit.Text) {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 0.5}
	}

	negated := structured.Negated
	if strings.EqualFold(crit.Operator, "NO") {
		negated = true
	}
	drugList := structured.ValueList
	drugName := crit.Value
	if len(drugList) > 0 {
		drugName = ""
	}

	met := matchMedication(bundle.Medications, drugName, drugList, negated)
	return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(met), Confidence: 0.85}
}

func matchMedication(medications []models.Medication, drugName string, drugList []string, negated bool) bool {
	if drugName == "" && len(drugList) == 0 {
		return !negated
	}
	var medsText strings.Builder
	for _, m := range medications {
		medsText.WriteString(strings.ToLower(m.Description))
		medsText.WriteString(" ")
	}
	text := medsText.String()

	found := false
	if len(drugList) > 0 {
		for _, drug := range drugList {
			if strings.Contains(text, strings.ToLower(drug)) {
				found = true
				break
			}
		}
	} else {
		found = strings.Contains(text, strings.ToLower(strings.TrimSpace(drugName)))
	}
	if negated {
		return !found
	}
	return found
}

func (e *Evaluator) evaluateLab(bundle *models.PatientBundle, crit models.Criterion, structured *models.StructuredData) models.CriterionResult {
	missing := models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}

	threshold := 0.0
	if parsed, err := ParseNumericValue(crit.Value); err == nil {
		threshold = parsed
	}

	labName := structured.Variable
	if labName == "" {
		labName = structured.Entity
	}
	if labName == "" {
		if crit.Unit != "" && !startsWithDigit(crit.Unit) {
			labName = crit.Unit
		} else {
			labName = crit.Text
		}
	}
	if labName == "" {
		labName = crit.Category
	}
	if labName == "" {
		return missing
	}

	term := strings.ToLower(strings.TrimSpace(labName))
	var matching []models.Observation
	for _, o := range bundle.Observations {
		if o.Code != "" && strings.EqualFold(o.Code, labName) {
			matching = append(matching, o)
		}
	}
	if len(matching) == 0 {
		for _, o := range bundle.Observations {
			if strings.Contains(strings.ToLower(o.Description), term) {
				matching = append(matching, o)
			}
		}
	}

	if structured.Temporal != nil && structured.Temporal.WindowMonths > 0 {
		cutoff := e.now().AddDate(0, -structured.Temporal.WindowMonths, 0)
		recent := matching[:0]
		for _, o := range matching {
			if o.ObservationDate != nil && !o.ObservationDate.Before(cutoff) {
				recent = append(recent, o)
			}
		}
		matching = recent
	}
	if len(matching) == 0 {
		return missing
	}

	latest := matching[0]
	for _, o := range matching[1:] {
		if o.ObservationDate != nil && (latest.ObservationDate == nil || o.ObservationDate.After(*latest.ObservationDate)) {
			latest = o
		}
	}

	observed, err := ParseNumericValue(latest.Value)
	if err != nil {
		return missing
	}

	op := crit.Operator
	if op == "" {
		op = "=="
	}
	met, err := CompareValues(observed, op, strconv.FormatFloat(threshold, 'f', -1, 64))
	if err != nil {
		return missing
	}

	observedValue := &models.ObservedValue{Value: observed, Unit: latest.Units}
	if latest.ObservationDate != nil {
		observedValue.Date = latest.ObservationDate.Format("2006-01-02")
	}
	return models.CriterionResult{
		CriterionID: crit.ID,
		Status:      statusOf(met),
		Confidence:  0.95,
		Observed:    observedValue,
	}
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func matchAllergy(allergies []models.Allergy, allergen string) bool {
	term := strings.ToLower(strings.TrimSpace(allergen))
	if term == "" {
		return false
	}
	for _, a := range allergies {
		if strings.Contains(strings.ToLower(a.Description), term) {
			return true
		}
		if strings.Contains(strings.ToLower(a.Category), term) {
			return true
		}
		if strings.Contains(strings.ToLower(a.Reaction1), term) {
			return true
		}
	}
	return false
}

func (e *Evaluator) evaluatePregnancy(bundle *models.PatientBundle, crit models.Criterion) models.CriterionResult {
	textLower := strings.ToLower(crit.Text)
	if strings.Contains(textLower, "female") || strings.Contains(textLower, "gender") {
		if bundle.Patient.Gender == "M" {
			return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 1.0}
		}
	}
	pregnant := false
	for _, c := range bundle.Conditions {
		if strings.Contains(strings.ToLower(c.Description), "pregnan") {
			pregnant = true
			break
		}
	}
	return models.CriterionResult{CriterionID: crit.ID, Status: statusOf(pregnant), Confidence: 0.9}
}

func (e *Evaluator) evaluateContraception(bundle *models.PatientBundle, crit models.Criterion, structured *models.StructuredData) models.CriterionResult {
	appliesTo := strings.ToUpper(structured.AppliesTo)
	if appliesTo == "" {
		appliesTo = "FEMALE"
	}
	if appliesTo == "FEMALE" && bundle.Patient.Gender == "M" {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMet, Confidence: 1.0, Administrative: true}
	}
	obs := findObservation(bundle.Observations, []string{"pregnancy test", "serum pregnancy"})
	if obs != nil && strings.Contains(strings.ToLower(obs.Value), "negative") {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMet, Confidence: 0.95}
	}
	return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 0.7}
}

func (e *Evaluator) evaluateFallback(bundle *models.PatientBundle, crit models.Criterion) models.CriterionResult {
	if crit.Type == models.CriterionExclusion && e.lexicon.IsVagueExclusion(crit.Text) {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusNotMet, Confidence: 0.5}
	}
	minOverlap := 2
	if crit.Type == models.CriterionExclusion {
		minOverlap = 3
	}
	search := crit.Value
	if search == "" {
		search = crit.Text
	}
	if e.lexicon.MatchKeywords(bundle, search, minOverlap) {
		return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMet, Confidence: 0.6}
	}
	return models.CriterionResult{CriterionID: crit.ID, Status: models.StatusMissingData, Confidence: 0.0}
}
