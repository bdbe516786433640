package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	evaluationsTotal    atomic.Int64
	eligibleTotal       atomic.Int64
	ineligibleTotal     atomic.Int64
	needsReviewTotal    atomic.Int64
	evaluationErrors    atomic.Int64
	cacheHitsTotal      atomic.Int64
	patientsIngested    atomic.Int64
	runsQueuedGauge     atomic.Int64
	runsRunningGauge    atomic.Int64
	runsCompletedTotal  atomic.Int64
	runsFailedTotal     atomic.Int64
)

func Init() {}

func ObserveEvaluation(eligible bool, status string) {
	evaluationsTotal.Add(1)
	switch {
	case status == "INELIGIBLE":
		ineligibleTotal.Add(1)
	case eligible:
		eligibleTotal.Add(1)
	default:
		needsReviewTotal.Add(1)
	}
}

func ObserveEvaluationError() {
	evaluationErrors.Add(1)
}

func ObserveCacheHit() {
	cacheHitsTotal.Add(1)
}

func ObservePatientIngested() {
	patientsIngested.Add(1)
}

func ObserveRunCounts(queued, running int) {
	runsQueuedGauge.Store(int64(queued))
	runsRunningGauge.Store(int64(running))
}

func ObserveRunCompleted(failed bool) {
	if failed {
		runsFailedTotal.Add(1)
	} else {
		runsCompletedTotal.Add(1)
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP trialmatch_screening_evaluations_total Number of patient eligibility evaluations performed.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_evaluations_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_evaluations_total %d\n", evaluationsTotal.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_eligible_total Number of evaluations producing an eligible verdict.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_eligible_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_eligible_total %d\n", eligibleTotal.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_ineligible_total Number of evaluations producing an ineligible verdict.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_ineligible_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_ineligible_total %d\n", ineligibleTotal.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_needs_review_total Number of evaluations deferred to manual review.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_needs_review_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_needs_review_total %d\n", needsReviewTotal.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_evaluation_errors_total Number of per-patient evaluation failures.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_evaluation_errors_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_evaluation_errors_total %d\n", evaluationErrors.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_cache_hits_total Number of verdicts served from the redis cache.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_cache_hits_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_cache_hits_total %d\n", cacheHitsTotal.Load())

	fmt.Fprintf(w, "# HELP trialmatch_registry_patients_ingested_total Number of patient record sets ingested.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_registry_patients_ingested_total counter\n")
	fmt.Fprintf(w, "trialmatch_registry_patients_ingested_total %d\n", patientsIngested.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_runs_queued Number of screening runs waiting for a worker.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_runs_queued gauge\n")
	fmt.Fprintf(w, "trialmatch_screening_runs_queued %d\n", runsQueuedGauge.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_runs_running Number of screening runs currently executing.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_runs_running gauge\n")
	fmt.Fprintf(w, "trialmatch_screening_runs_running %d\n", runsRunningGauge.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_runs_completed_total Number of screening runs finished successfully.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_runs_completed_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_runs_completed_total %d\n", runsCompletedTotal.Load())

	fmt.Fprintf(w, "# HELP trialmatch_screening_runs_failed_total Number of screening runs that errored.\n")
	fmt.Fprintf(w, "# TYPE trialmatch_screening_runs_failed_total counter\n")
	fmt.Fprintf(w, "trialmatch_screening_runs_failed_total %d\n", runsFailedTotal.Load())
}
