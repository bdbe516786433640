package screening

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
	"github.com/trialmatch-ai/platform/pkg/observability/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("screening run not found")

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

type runModel struct {
	ID            uuid.UUID      `gorm:"primaryKey;column:id"`
	TrialID       int64          `gorm:"column:trial_id;index"`
	PatientIDs    datatypes.JSON `gorm:"column:patient_ids"`
	Status        string         `gorm:"column:status"`
	ResultCount   int            `gorm:"column:result_count"`
	EligibleCount int            `gorm:"column:eligible_count"`
	ErrorMessage  string         `gorm:"column:error_message"`
	RequestedBy   string         `gorm:"column:requested_by"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	StartedAt     *time.Time     `gorm:"column:started_at"`
	CompletedAt   *time.Time     `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "screening_runs" }

// RunManager executes batch screenings asynchronously. A fixed-size
// semaphore bounds concurrent runs; submissions beyond it stay queued.
type RunManager struct {
	db      *gorm.DB
	service *Service
	sem     chan struct{}

	mu      sync.Mutex
	queued  int
	running int
}

func NewRunManager(db *gorm.DB, service *Service, workers int) *RunManager {
	if workers <= 0 {
		workers = 2
	}
	return &RunManager{
		db:      db,
		service: service,
		sem:     make(chan struct{}, workers),
	}
}

func (m *RunManager) AutoMigrate() error {
	return m.db.AutoMigrate(&runModel{})
}

// Submit records a queued run and starts it in the background. The
// returned run reflects the queued state.
func (m *RunManager) Submit(ctx context.Context, req models.ScreeningRunRequest) (models.ScreeningRun, error) {
	raw, err := json.Marshal(req.PatientIDs)
	if err != nil {
		return models.ScreeningRun{}, err
	}
	row := &runModel{
		ID:          uuid.New(),
		TrialID:     req.TrialID,
		PatientIDs:  datatypes.JSON(raw),
		Status:      RunStatusQueued,
		RequestedBy: req.RequestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.ScreeningRun{}, err
	}

	m.adjustCounts(1, 0)
	go m.execute(row.ID, req)

	return toRun(*row), nil
}

func (m *RunManager) execute(runID uuid.UUID, req models.ScreeningRunRequest) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	m.adjustCounts(-1, 1)
	now := time.Now().UTC()
	m.db.Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":     RunStatusRunning,
		"started_at": now,
	})

	results, err := m.service.EvaluateBatch(ctx, req.TrialID, req.PatientIDs)
	completed := time.Now().UTC()
	m.adjustCounts(0, -1)

	if err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("screening run failed")
		metrics.ObserveRunCompleted(true)
		m.db.Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
			"status":        RunStatusFailed,
			"error_message": err.Error(),
			"completed_at":  completed,
		})
		return
	}

	eligible := 0
	for _, verdict := range results {
		if verdict.Eligible {
			eligible++
		}
	}
	metrics.ObserveRunCompleted(false)
	m.db.Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":         RunStatusCompleted,
		"result_count":   len(results),
		"eligible_count": eligible,
		"completed_at":   completed,
	})
}

func (m *RunManager) adjustCounts(queuedDelta, runningDelta int) {
	m.mu.Lock()
	m.queued += queuedDelta
	m.running += runningDelta
	metrics.ObserveRunCounts(m.queued, m.running)
	m.mu.Unlock()
}

func (m *RunManager) Get(ctx context.Context, runID uuid.UUID) (models.ScreeningRun, error) {
	var row runModel
	err := m.db.WithContext(ctx).First(&row, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ScreeningRun{}, ErrRunNotFound
	}
	if err != nil {
		return models.ScreeningRun{}, err
	}
	return toRun(row), nil
}

func (m *RunManager) List(ctx context.Context, trialID int64, limit int) ([]models.ScreeningRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := m.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if trialID > 0 {
		query = query.Where("trial_id = ?", trialID)
	}
	var rows []runModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]models.ScreeningRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, toRun(row))
	}
	return runs, nil
}

func toRun(row runModel) models.ScreeningRun {
	run := models.ScreeningRun{
		ID:            row.ID,
		TrialID:       row.TrialID,
		Status:        row.Status,
		ResultCount:   row.ResultCount,
		EligibleCount: row.EligibleCount,
		ErrorMessage:  row.ErrorMessage,
		RequestedBy:   row.RequestedBy,
		CreatedAt:     row.CreatedAt,
		StartedAt:     row.StartedAt,
		CompletedAt:   row.CompletedAt,
	}
	if len(row.PatientIDs) > 0 {
		_ = json.Unmarshal(row.PatientIDs, &run.PatientIDs)
	}
	return run
}
