package screening

import (
	"fmt"
	"math"
	"strings"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

// PatientOutcome pairs the verdict with the audit counters derived
// while scoring.
type PatientOutcome struct {
	Verdict       models.Verdict
	CriteriaMet   int
	CriteriaTotal int
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ScorePatient walks the full criteria set for one bundle, folding
// grouped criteria into a single compound evaluation, then combines the
// bucket tallies into a weighted verdict.
func (e *Evaluator) ScorePatient(bundle *models.PatientBundle, criteria []models.Criterion, weights models.ScoringWeights) PatientOutcome {
	lookup := make(map[int64]models.Criterion, len(criteria))
	for _, c := range criteria {
		lookup[c.ID] = c
	}

	var (
		inclusionResults []models.CriterionResult
		exclusionResults []models.CriterionResult
		administrative   int
		missingData      []int64
		hardExclusions   []int64
		softExclusions   []int64
	)
	processedGroups := make(map[string]struct{})

	for _, crit := range criteria {
		var result models.CriterionResult
		if crit.GroupID != "" {
			if _, done := processedGroups[crit.GroupID]; done {
				continue
			}
			processedGroups[crit.GroupID] = struct{}{}

			var members []models.Criterion
			for _, candidate := range criteria {
				if candidate.GroupID == crit.GroupID {
					members = append(members, candidate)
				}
			}
			node := &models.GroupNode{Logic: crit.GroupLogic}
			for _, member := range members {
				node.Children = append(node.Children, models.GroupChild{Ref: member.ID})
			}
			result = e.EvaluateCompound(node, bundle, lookup)
			result.CriterionID = crit.ID
			result.Text = compoundText(result.Logic, members)
		} else {
			result = e.Evaluate(bundle, crit)
			result.Text = crit.Text
		}

		category := strings.ToUpper(crit.Category)
		switch {
		case isAdministrativeCategory(category):
			administrative++
		case crit.Type == models.CriterionInclusion:
			inclusionResults = append(inclusionResults, result)
		default:
			exclusionResults = append(exclusionResults, result)
			if result.Status == models.StatusMet {
				if e.lexicon.IsSoftExclusion(crit.Text) {
					softExclusions = append(softExclusions, crit.ID)
				} else {
					hardExclusions = append(hardExclusions, crit.ID)
				}
			}
		}

		if result.Status == models.StatusMissingData {
			missingData = append(missingData, crit.ID)
		}
	}

	matchedInclusions := 0
	for _, r := range inclusionResults {
		if r.Status == models.StatusMet {
			matchedInclusions++
		}
	}
	inclusionScore := 0.0
	if len(inclusionResults) > 0 {
		inclusionScore = float64(matchedInclusions) / float64(len(inclusionResults))
	}

	exclusionDenominator := len(exclusionResults)
	if exclusionDenominator < 1 {
		exclusionDenominator = 1
	}
	exclusionScore := 1.0 - float64(len(hardExclusions))/float64(exclusionDenominator)

	scorable := len(inclusionResults) + len(exclusionResults)
	dataCompleteness := 0.0
	if scorable > 0 {
		dataCompleteness = float64(scorable-len(missingData)) / float64(scorable)
	}

	nlpCertainty := 1.0
	if scorable > 0 {
		sum := 0.0
		for _, r := range inclusionResults {
			sum += r.Confidence
		}
		for _, r := range exclusionResults {
			sum += r.Confidence
		}
		nlpCertainty = sum / float64(scorable)
	}

	rawConfidence := weights.Inclusion*inclusionScore +
		weights.Exclusion*exclusionScore +
		weights.Data*dataCompleteness +
		weights.NLP*nlpCertainty
	if len(softExclusions) > 0 {
		rawConfidence *= 0.85
	}
	confidence := round3(rawConfidence)

	var status string
	var eligible bool
	switch {
	case len(hardExclusions) > 0:
		confidence = round3(math.Min(confidence, 0.15))
		status = models.VerdictIneligible
		eligible = false
	case confidence >= 0.75:
		status = models.VerdictHighlyEligible
		eligible = true
	case confidence >= 0.45:
		status = models.VerdictPotentiallyEligible
		eligible = true
	default:
		status = models.VerdictNeedsReview
		eligible = false
	}

	hardSet := make(map[int64]struct{}, len(hardExclusions))
	for _, id := range hardExclusions {
		hardSet[id] = struct{}{}
	}
	inclusionDetails := make([]models.CriterionDetail, 0, len(inclusionResults))
	for _, r := range inclusionResults {
		inclusionDetails = append(inclusionDetails, models.CriterionDetail{Text: r.Text, Met: r.Status == models.StatusMet})
	}
	exclusionDetails := make([]models.CriterionDetail, 0, len(exclusionResults))
	for _, r := range exclusionResults {
		_, isHard := hardSet[r.CriterionID]
		exclusionDetails = append(exclusionDetails, models.CriterionDetail{
			Text:   r.Text,
			Met:    r.Status == models.StatusMet,
			IsHard: isHard,
		})
	}

	verdict := models.Verdict{
		Eligible:   eligible,
		Confidence: confidence,
		Status:     status,
		Reasons: &models.ScoreBreakdown{
			ScoringWeights:           weights,
			InclusionScore:           round3(inclusionScore),
			ExclusionScore:           round3(exclusionScore),
			DataCompleteness:         round3(dataCompleteness),
			NLPCertainty:             round3(nlpCertainty),
			HardExclusions:           len(hardExclusions),
			SoftExclusions:           len(softExclusions),
			AdministrativeAutoPassed: administrative,
			InclusionDetails:         inclusionDetails,
			ExclusionDetails:         exclusionDetails,
			MissingData:              missingData,
		},
	}

	return PatientOutcome{
		Verdict:       verdict,
		CriteriaMet:   matchedInclusions,
		CriteriaTotal: scorable,
	}
}

func compoundText(logic string, members []models.Criterion) string {
	parts := make([]string, 0, 3)
	for i, m := range members {
		if i == 3 {
			break
		}
		text := m.Text
		if runes := []rune(text); len(runes) > 30 {
			text = string(runes[:30])
		}
		parts = append(parts, text)
	}
	return fmt.Sprintf("Compound (%s): %s", logic, strings.Join(parts, ", "))
}

// ErrorVerdict is the uniform shape for per-patient failures that do
// not abort the batch.
func ErrorVerdict(message string) models.Verdict {
	return models.Verdict{
		Eligible:   false,
		Confidence: 0.0,
		Reasons:    &models.ScoreBreakdown{Error: message},
	}
}
