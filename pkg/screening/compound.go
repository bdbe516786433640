package screening

import (
	"strings"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

// EvaluateCompound resolves an AND/OR group. AND requires every child
// met and reports the weakest child confidence; OR requires any child
// met and reports the strongest. An unresolvable child contributes
// missing_data at zero confidence rather than failing the group.
func (e *Evaluator) EvaluateCompound(node *models.GroupNode, bundle *models.PatientBundle, lookup map[int64]models.Criterion) models.CriterionResult {
	logic := strings.ToUpper(node.Logic)
	if logic == "" {
		logic = "AND"
	}

	childResults := make([]models.CriterionResult, 0, len(node.Children))
	for _, child := range node.Children {
		childResults = append(childResults, e.evaluateChild(child, bundle, lookup))
	}

	met := false
	confidence := 0.0
	switch logic {
	case "AND":
		met = len(childResults) > 0
		for i, r := range childResults {
			if r.Status != models.StatusMet {
				met = false
			}
			if i == 0 || r.Confidence < confidence {
				confidence = r.Confidence
			}
		}
	case "OR":
		for _, r := range childResults {
			if r.Status == models.StatusMet {
				met = true
			}
			if r.Confidence > confidence {
				confidence = r.Confidence
			}
		}
	default:
		met, confidence = false, 0.0
	}

	return models.CriterionResult{
		Status:     statusOf(met),
		Confidence: confidence,
		Logic:      logic,
		Children:   childResults,
	}
}

func (e *Evaluator) evaluateChild(child models.GroupChild, bundle *models.PatientBundle, lookup map[int64]models.Criterion) models.CriterionResult {
	switch {
	case child.Group != nil:
		return e.EvaluateCompound(child.Group, bundle, lookup)
	case child.Criterion != nil:
		if child.Criterion.Structured != nil && child.Criterion.Structured.Children != nil {
			return e.EvaluateCompound(child.Criterion.Structured.Children, bundle, lookup)
		}
		return e.Evaluate(bundle, *child.Criterion)
	case child.Ref != 0:
		crit, ok := lookup[child.Ref]
		if !ok {
			return models.CriterionResult{Status: models.StatusMissingData, Confidence: 0.0}
		}
		if crit.Structured != nil && crit.Structured.Children != nil {
			return e.EvaluateCompound(crit.Structured.Children, bundle, lookup)
		}
		return e.Evaluate(bundle, crit)
	default:
		return models.CriterionResult{Status: models.StatusMissingData, Confidence: 0.0}
	}
}
