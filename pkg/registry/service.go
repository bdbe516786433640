package registry

import (
	"context"
	"strings"

	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
	"github.com/trialmatch-ai/platform/pkg/observability/metrics"
)

// EventPublisher is satisfied by the kafka producer. Publishing is
// best-effort: a bus outage never fails an ingest.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	repo      *Repository
	validator *Validator
	events    EventPublisher
}

func NewService(repo *Repository, validator *Validator, events EventPublisher) *Service {
	return &Service{repo: repo, validator: validator, events: events}
}

func (s *Service) RegisterPatient(ctx context.Context, req models.RegisterPatientRequest) error {
	req.Patient.ID = strings.TrimSpace(req.Patient.ID)
	if err := s.validator.Validate(req); err != nil {
		return err
	}
	if err := s.repo.ReplacePatient(ctx, req); err != nil {
		return err
	}
	metrics.ObservePatientIngested()

	if s.events != nil {
		err := s.events.PublishEvent(ctx, "record.ingested", "registry-service", map[string]interface{}{
			"patient_id":    req.Patient.ID,
			"source":        req.Source,
			"conditions":    len(req.Conditions),
			"medications":   len(req.Medications),
			"observations":  len(req.Observations),
			"allergies":     len(req.Allergies),
			"immunizations": len(req.Immunizations),
		})
		if err != nil {
			logger.Log.WithError(err).Warn("record.ingested event not published")
		}
	}
	return nil
}

// FetchBundles implements the record store consumed by the screening
// engine. Unknown ids are simply absent from the map.
func (s *Service) FetchBundles(ctx context.Context, patientIDs []string) (map[string]*models.PatientBundle, error) {
	return s.repo.FetchBundles(ctx, patientIDs)
}

func (s *Service) GetBundle(ctx context.Context, patientID string) (*models.PatientBundle, error) {
	bundles, err := s.repo.FetchBundles(ctx, []string{patientID})
	if err != nil {
		return nil, err
	}
	return bundles[patientID], nil
}

func (s *Service) ListPatients(ctx context.Context, limit int) ([]models.Patient, error) {
	return s.repo.ListPatients(ctx, limit)
}
