package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trialmatch-ai/platform/pkg/common/models"
)

var (
	errInvalidSource   = errors.New("invalid source")
	errMissingPatient  = errors.New("missing patient payload")
	errInvalidGender   = errors.New("invalid gender")
	errBlankRecordText = errors.New("record description required")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

type Validator struct {
	allowedSources map[string]struct{}
}

func NewValidator(sources []string) *Validator {
	vs := make(map[string]struct{})
	for _, src := range sources {
		if trimmed := strings.TrimSpace(strings.ToLower(src)); trimmed != "" {
			vs[trimmed] = struct{}{}
		}
	}
	return &Validator{allowedSources: vs}
}

func (v *Validator) Validate(req models.RegisterPatientRequest) error {
	if v == nil {
		return ValidationError{reason: errors.New("validator not initialised")}
	}

	source := strings.TrimSpace(strings.ToLower(req.Source))
	if source == "" {
		return ValidationError{reason: fmt.Errorf("source required: %w", errInvalidSource)}
	}
	if len(v.allowedSources) > 0 {
		if _, ok := v.allowedSources[source]; !ok {
			return ValidationError{reason: fmt.Errorf("source '%s' not allowed: %w", source, errInvalidSource)}
		}
	}

	if strings.TrimSpace(req.Patient.ID) == "" {
		return ValidationError{reason: errMissingPatient}
	}

	if g := strings.TrimSpace(req.Patient.Gender); g != "" {
		switch strings.ToUpper(g) {
		case "M", "F":
		default:
			return ValidationError{reason: fmt.Errorf("gender '%s': %w", g, errInvalidGender)}
		}
	}

	for _, c := range req.Conditions {
		if strings.TrimSpace(c.Description) == "" {
			return ValidationError{reason: fmt.Errorf("condition: %w", errBlankRecordText)}
		}
	}
	for _, m := range req.Medications {
		if strings.TrimSpace(m.Description) == "" {
			return ValidationError{reason: fmt.Errorf("medication: %w", errBlankRecordText)}
		}
	}
	for _, o := range req.Observations {
		if strings.TrimSpace(o.Description) == "" {
			return ValidationError{reason: fmt.Errorf("observation: %w", errBlankRecordText)}
		}
	}
	for _, a := range req.Allergies {
		if strings.TrimSpace(a.Description) == "" {
			return ValidationError{reason: fmt.Errorf("allergy: %w", errBlankRecordText)}
		}
	}
	for _, i := range req.Immunizations {
		if strings.TrimSpace(i.Description) == "" {
			return ValidationError{reason: fmt.Errorf("immunization: %w", errBlankRecordText)}
		}
	}

	return nil
}
