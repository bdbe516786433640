package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
)

// VerdictCache keeps recent verdicts in redis so dashboards polling the
// same trial/patient pair do not re-run the engine. Cache misses and
// redis outages are both treated as a miss.
type VerdictCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewVerdictCache(client *redis.Client, ttl time.Duration) *VerdictCache {
	return &VerdictCache{client: client, ttl: ttl}
}

func verdictKey(trialID int64, patientID string) string {
	return fmt.Sprintf("screening:verdict:%d:%s", trialID, patientID)
}

func (c *VerdictCache) Get(ctx context.Context, trialID int64, patientID string) (*models.Verdict, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, verdictKey(trialID, patientID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.WithError(err).Debug("verdict cache read failed")
		}
		return nil, false
	}
	var verdict models.Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, false
	}
	return &verdict, true
}

func (c *VerdictCache) Set(ctx context.Context, trialID int64, patientID string, verdict models.Verdict) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, verdictKey(trialID, patientID), raw, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Debug("verdict cache write failed")
	}
}

// InvalidateTrial drops every cached verdict for a trial. Called when
// the criteria set is replaced.
func (c *VerdictCache) InvalidateTrial(ctx context.Context, trialID int64) {
	if c == nil || c.client == nil {
		return
	}
	pattern := fmt.Sprintf("screening:verdict:%d:*", trialID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.WithError(err).Warn("verdict cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			logger.Log.WithError(err).Warn("verdict cache invalidation failed")
		}
	}
}

// InvalidatePatient drops cached verdicts for one patient across all
// trials. Called when new records are ingested.
func (c *VerdictCache) InvalidatePatient(ctx context.Context, patientID string) {
	if c == nil || c.client == nil {
		return
	}
	pattern := fmt.Sprintf("screening:verdict:*:%s", patientID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.WithError(err).Warn("verdict cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			logger.Log.WithError(err).Warn("verdict cache invalidation failed")
		}
	}
}
