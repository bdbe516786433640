package registry

import (
	"context"
	"time"

	"github.com/trialmatch-ai/platform/pkg/common/models"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type patientModel struct {
	ID             string     `gorm:"primaryKey;column:id"`
	Birthdate      *time.Time `gorm:"column:birthdate"`
	Gender         string     `gorm:"column:gender"`
	Race           string     `gorm:"column:race"`
	Ethnicity      string     `gorm:"column:ethnicity"`
	City           string     `gorm:"column:city"`
	State          string     `gorm:"column:state"`
	AgeGroup       string     `gorm:"column:age_group"`
	IsDeidentified bool       `gorm:"column:is_deidentified"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

func (patientModel) TableName() string { return "patients" }

type conditionModel struct {
	ID          int64      `gorm:"primaryKey;column:id"`
	PatientID   string     `gorm:"column:patient_id;index"`
	Code        string     `gorm:"column:code"`
	Description string     `gorm:"column:description"`
	Scope       string     `gorm:"column:scope"`
	StartDate   *time.Time `gorm:"column:start_date"`
}

func (conditionModel) TableName() string { return "conditions" }

type medicationModel struct {
	ID          int64      `gorm:"primaryKey;column:id"`
	PatientID   string     `gorm:"column:patient_id;index"`
	Code        string     `gorm:"column:code"`
	Description string     `gorm:"column:description"`
	StartDate   *time.Time `gorm:"column:start_date"`
}

func (medicationModel) TableName() string { return "medications" }

type observationModel struct {
	ID              int64      `gorm:"primaryKey;column:id"`
	PatientID       string     `gorm:"column:patient_id;index"`
	Code            string     `gorm:"column:code"`
	Description     string     `gorm:"column:description"`
	Value           string     `gorm:"column:value"`
	Units           string     `gorm:"column:units"`
	ObservationDate *time.Time `gorm:"column:observation_date"`
}

func (observationModel) TableName() string { return "observations" }

type allergyModel struct {
	ID          int64      `gorm:"primaryKey;column:id"`
	PatientID   string     `gorm:"column:patient_id;index"`
	Code        string     `gorm:"column:code"`
	Description string     `gorm:"column:description"`
	AllergyType string     `gorm:"column:type"`
	Category    string     `gorm:"column:category"`
	Reaction1   string     `gorm:"column:reaction1"`
	Severity1   string     `gorm:"column:severity1"`
	Reaction2   string     `gorm:"column:reaction2"`
	Severity2   string     `gorm:"column:severity2"`
	StartDate   *time.Time `gorm:"column:start_date"`
}

func (allergyModel) TableName() string { return "allergies" }

type immunizationModel struct {
	ID               int64      `gorm:"primaryKey;column:id"`
	PatientID        string     `gorm:"column:patient_id;index"`
	Code             string     `gorm:"column:code"`
	Description      string     `gorm:"column:description"`
	ImmunizationDate *time.Time `gorm:"column:immunization_date"`
}

func (immunizationModel) TableName() string { return "immunizations" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&patientModel{},
		&conditionModel{},
		&medicationModel{},
		&observationModel{},
		&allergyModel{},
		&immunizationModel{},
	)
}

// ReplacePatient upserts the patient row and replaces every clinical
// record belonging to it in one transaction.
func (r *Repository) ReplacePatient(ctx context.Context, req models.RegisterPatientRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pid := req.Patient.ID
		row := &patientModel{
			ID:             pid,
			Birthdate:      req.Patient.Birthdate,
			Gender:         req.Patient.Gender,
			Race:           req.Patient.Race,
			Ethnicity:      req.Patient.Ethnicity,
			City:           req.Patient.City,
			State:          req.Patient.State,
			AgeGroup:       req.Patient.AgeGroup,
			IsDeidentified: req.Patient.IsDeidentified,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Save(row).Error; err != nil {
			return err
		}

		for _, model := range []interface{}{
			&conditionModel{}, &medicationModel{}, &observationModel{},
			&allergyModel{}, &immunizationModel{},
		} {
			if err := tx.Where("patient_id = ?", pid).Delete(model).Error; err != nil {
				return err
			}
		}

		for _, c := range req.Conditions {
			scope := c.Scope
			if scope == "" {
				scope = "personal"
			}
			entry := &conditionModel{PatientID: pid, Code: c.Code, Description: c.Description, Scope: scope, StartDate: c.StartDate}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		for _, m := range req.Medications {
			entry := &medicationModel{PatientID: pid, Code: m.Code, Description: m.Description, StartDate: m.StartDate}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		for _, o := range req.Observations {
			entry := &observationModel{PatientID: pid, Code: o.Code, Description: o.Description, Value: o.Value, Units: o.Units, ObservationDate: o.ObservationDate}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		for _, a := range req.Allergies {
			entry := &allergyModel{PatientID: pid, Code: a.Code, Description: a.Description, AllergyType: a.AllergyType, Category: a.Category, Reaction1: a.Reaction1, Severity1: a.Severity1, Reaction2: a.Reaction2, Severity2: a.Severity2}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		for _, i := range req.Immunizations {
			entry := &immunizationModel{PatientID: pid, Code: i.Code, Description: i.Description, ImmunizationDate: i.ImmunizationDate}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchBundles loads records for the requested patients with exactly one
// query per record type, then partitions them into per-patient bundles.
// Ids with no matching patient row are omitted from the result.
func (r *Repository) FetchBundles(ctx context.Context, patientIDs []string) (map[string]*models.PatientBundle, error) {
	bundles := make(map[string]*models.PatientBundle)
	if len(patientIDs) == 0 {
		return bundles, nil
	}

	var patients []patientModel
	if err := r.db.WithContext(ctx).Where("id IN ?", patientIDs).Find(&patients).Error; err != nil {
		return nil, err
	}
	for _, p := range patients {
		bundles[p.ID] = &models.PatientBundle{
			Patient: models.Patient{
				ID:             p.ID,
				Birthdate:      p.Birthdate,
				Gender:         p.Gender,
				Race:           p.Race,
				Ethnicity:      p.Ethnicity,
				City:           p.City,
				State:          p.State,
				AgeGroup:       p.AgeGroup,
				IsDeidentified: p.IsDeidentified,
			},
		}
	}
	if len(bundles) == 0 {
		return bundles, nil
	}

	var conditions []conditionModel
	if err := r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs).Find(&conditions).Error; err != nil {
		return nil, err
	}
	for _, c := range conditions {
		if bundle, ok := bundles[c.PatientID]; ok {
			bundle.Conditions = append(bundle.Conditions, models.Condition{
				Code: c.Code, Description: c.Description, Scope: c.Scope, StartDate: c.StartDate,
			})
		}
	}

	var medications []medicationModel
	if err := r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs).Find(&medications).Error; err != nil {
		return nil, err
	}
	for _, m := range medications {
		if bundle, ok := bundles[m.PatientID]; ok {
			bundle.Medications = append(bundle.Medications, models.Medication{
				Code: m.Code, Description: m.Description, StartDate: m.StartDate,
			})
		}
	}

	var observations []observationModel
	if err := r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs).Find(&observations).Error; err != nil {
		return nil, err
	}
	for _, o := range observations {
		if bundle, ok := bundles[o.PatientID]; ok {
			bundle.Observations = append(bundle.Observations, models.Observation{
				Code: o.Code, Description: o.Description, Value: o.Value, Units: o.Units, ObservationDate: o.ObservationDate,
			})
		}
	}

	var allergies []allergyModel
	if err := r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs).Find(&allergies).Error; err != nil {
		return nil, err
	}
	for _, a := range allergies {
		if bundle, ok := bundles[a.PatientID]; ok {
			bundle.Allergies = append(bundle.Allergies, models.Allergy{
				Code: a.Code, Description: a.Description, AllergyType: a.AllergyType,
				Category: a.Category, Reaction1: a.Reaction1, Severity1: a.Severity1,
				Reaction2: a.Reaction2, Severity2: a.Severity2,
			})
		}
	}

	var immunizations []immunizationModel
	if err := r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs).Find(&immunizations).Error; err != nil {
		return nil, err
	}
	for _, i := range immunizations {
		if bundle, ok := bundles[i.PatientID]; ok {
			bundle.Immunizations = append(bundle.Immunizations, models.Immunization{
				Code: i.Code, Description: i.Description, ImmunizationDate: i.ImmunizationDate,
			})
		}
	}

	return bundles, nil
}

func (r *Repository) ListPatients(ctx context.Context, limit int) ([]models.Patient, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []patientModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	patients := make([]models.Patient, 0, len(rows))
	for _, p := range rows {
		patients = append(patients, models.Patient{
			ID:             p.ID,
			Birthdate:      p.Birthdate,
			Gender:         p.Gender,
			Race:           p.Race,
			Ethnicity:      p.Ethnicity,
			City:           p.City,
			State:          p.State,
			AgeGroup:       p.AgeGroup,
			IsDeidentified: p.IsDeidentified,
		})
	}
	return patients, nil
}
