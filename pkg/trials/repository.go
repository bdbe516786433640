package trials

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/trialmatch-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTrialNotFound = errors.New("trial not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type trialModel struct {
	ID             int64          `gorm:"primaryKey;column:id"`
	TrialID        string         `gorm:"column:trial_id;uniqueIndex"`
	ProtocolTitle  string         `gorm:"column:protocol_title"`
	Phase          string         `gorm:"column:phase"`
	Indication     string         `gorm:"column:indication"`
	DrugName       string         `gorm:"column:drug_name"`
	Status         string         `gorm:"column:status"`
	MatchingConfig datatypes.JSON `gorm:"column:matching_config"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (trialModel) TableName() string { return "clinical_trials" }

type criterionModel struct {
	ID          int64          `gorm:"primaryKey;column:id"`
	TrialID     int64          `gorm:"column:trial_id;index"`
	CriterionID string         `gorm:"column:criterion_id"`
	Type        string         `gorm:"column:criterion_type"`
	Text        string         `gorm:"column:criterion_text"`
	Category    string         `gorm:"column:category"`
	Operator    string         `gorm:"column:operator"`
	Value       string         `gorm:"column:value"`
	Unit        string         `gorm:"column:unit"`
	Negated     bool           `gorm:"column:negated"`
	Scope       string         `gorm:"column:scope"`
	GroupID     string         `gorm:"column:group_id"`
	GroupLogic  string         `gorm:"column:group_logic"`
	Structured  datatypes.JSON `gorm:"column:structured_data"`
}

func (criterionModel) TableName() string { return "eligibility_criteria" }

type auditModel struct {
	ID            int64          `gorm:"primaryKey;column:id"`
	TrialID       int64          `gorm:"column:trial_id;index"`
	PatientID     string         `gorm:"column:patient_id;index"`
	MatchedAt     time.Time      `gorm:"column:matched_at"`
	Status        string         `gorm:"column:status"`
	Confidence    float64        `gorm:"column:confidence"`
	CriteriaMet   int            `gorm:"column:criteria_met"`
	CriteriaTotal int            `gorm:"column:criteria_total"`
	Details       datatypes.JSON `gorm:"column:details"`
}

func (auditModel) TableName() string { return "eligibility_audits" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&trialModel{}, &criterionModel{}, &auditModel{})
}

func (r *Repository) CreateTrial(ctx context.Context, req models.CreateTrialRequest) (models.Trial, error) {
	row := &trialModel{
		TrialID:       req.TrialID,
		ProtocolTitle: req.ProtocolTitle,
		Phase:         req.Phase,
		Indication:    req.Indication,
		DrugName:      req.DrugName,
		Status:        "active",
		CreatedAt:     time.Now().UTC(),
	}
	if req.MatchingConfig != nil {
		raw, err := json.Marshal(req.MatchingConfig)
		if err != nil {
			return models.Trial{}, err
		}
		row.MatchingConfig = datatypes.JSON(raw)
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Trial{}, err
	}
	return toTrial(*row)
}

func (r *Repository) GetTrial(ctx context.Context, trialID int64) (models.Trial, error) {
	var row trialModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", trialID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Trial{}, ErrTrialNotFound
	}
	if err != nil {
		return models.Trial{}, err
	}
	return toTrial(row)
}

func (r *Repository) ListTrials(ctx context.Context, limit int) ([]models.Trial, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []trialModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	trials := make([]models.Trial, 0, len(rows))
	for _, row := range rows {
		trial, err := toTrial(row)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	return trials, nil
}

// ReplaceCriteria swaps the full criteria set for a trial in one
// transaction. Partial updates are not supported; the extraction agent
// always re-emits the complete list.
func (r *Repository) ReplaceCriteria(ctx context.Context, trialID int64, criteria []models.Criterion) ([]models.Criterion, error) {
	var stored []models.Criterion
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trial trialModel
		if err := tx.First(&trial, "id = ?", trialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTrialNotFound
			}
			return err
		}
		if err := tx.Where("trial_id = ?", trialID).Delete(&criterionModel{}).Error; err != nil {
			return err
		}
		for _, c := range criteria {
			row := &criterionModel{
				TrialID:     trialID,
				CriterionID: c.CriterionID,
				Type:        string(c.Type),
				Text:        c.Text,
				Category:    c.Category,
				Operator:    c.Operator,
				Value:       c.Value,
				Unit:        c.Unit,
				Negated:     c.Negated,
				Scope:       c.Scope,
				GroupID:     c.GroupID,
				GroupLogic:  c.GroupLogic,
			}
			if c.Structured != nil {
				raw, err := json.Marshal(c.Structured)
				if err != nil {
					return err
				}
				row.Structured = datatypes.JSON(raw)
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			out, err := toCriterion(*row)
			if err != nil {
				return err
			}
			stored = append(stored, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *Repository) GetCriteria(ctx context.Context, trialID int64) ([]models.Criterion, error) {
	var rows []criterionModel
	if err := r.db.WithContext(ctx).Where("trial_id = ?", trialID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	criteria := make([]models.Criterion, 0, len(rows))
	for _, row := range rows {
		c, err := toCriterion(row)
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}
	return criteria, nil
}

func (r *Repository) AppendAudit(ctx context.Context, audit models.EligibilityAudit) error {
	row := &auditModel{
		TrialID:       audit.TrialID,
		PatientID:     audit.PatientID,
		MatchedAt:     audit.MatchedAt,
		Status:        audit.Status,
		Confidence:    audit.Confidence,
		CriteriaMet:   audit.CriteriaMet,
		CriteriaTotal: audit.CriteriaTotal,
	}
	if row.MatchedAt.IsZero() {
		row.MatchedAt = time.Now().UTC()
	}
	if audit.Details != nil {
		raw, err := json.Marshal(audit.Details)
		if err != nil {
			return err
		}
		row.Details = datatypes.JSON(raw)
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) ListAudits(ctx context.Context, trialID int64, limit int) ([]models.EligibilityAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []auditModel
	if err := r.db.WithContext(ctx).Where("trial_id = ?", trialID).Order("matched_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	audits := make([]models.EligibilityAudit, 0, len(rows))
	for _, row := range rows {
		audit := models.EligibilityAudit{
			ID:            row.ID,
			TrialID:       row.TrialID,
			PatientID:     row.PatientID,
			MatchedAt:     row.MatchedAt,
			Status:        row.Status,
			Confidence:    row.Confidence,
			CriteriaMet:   row.CriteriaMet,
			CriteriaTotal: row.CriteriaTotal,
		}
		if len(row.Details) > 0 {
			var verdict models.Verdict
			if err := json.Unmarshal(row.Details, &verdict); err == nil {
				audit.Details = &verdict
			}
		}
		audits = append(audits, audit)
	}
	return audits, nil
}

func toTrial(row trialModel) (models.Trial, error) {
	trial := models.Trial{
		ID:            row.ID,
		TrialID:       row.TrialID,
		ProtocolTitle: row.ProtocolTitle,
		Phase:         row.Phase,
		Indication:    row.Indication,
		DrugName:      row.DrugName,
		Status:        row.Status,
		CreatedAt:     row.CreatedAt,
	}
	if len(row.MatchingConfig) > 0 {
		var cfg models.MatchingConfig
		if err := json.Unmarshal(row.MatchingConfig, &cfg); err != nil {
			return models.Trial{}, err
		}
		trial.MatchingConfig = &cfg
	}
	return trial, nil
}

func toCriterion(row criterionModel) (models.Criterion, error) {
	c := models.Criterion{
		ID:          row.ID,
		TrialID:     row.TrialID,
		CriterionID: row.CriterionID,
		Type:        models.CriterionType(row.Type),
		Text:        row.Text,
		Category:    row.Category,
		Operator:    row.Operator,
		Value:       row.Value,
		Unit:        row.Unit,
		Negated:     row.Negated,
		Scope:       row.Scope,
		GroupID:     row.GroupID,
		GroupLogic:  row.GroupLogic,
	}
	if len(row.Structured) > 0 {
		var structured models.StructuredData
		if err := json.Unmarshal(row.Structured, &structured); err != nil {
			return models.Criterion{}, err
		}
		c.Structured = &structured
	}
	return c, nil
}
