package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run start outcomes
const (
	StartCreated  = "created"
	StartResumed  = "resumed"
	StartReplayed = "replayed"
)

// Progress save results
const (
	SaveApplied  = "applied"
	SaveDropped  = "dropped"
	SaveIgnored  = "ignored"
	SaveDeferred = "deferred"
)

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_runner_runs_started_total",
		Help: "Runs returned by create-or-resume, by outcome",
	}, []string{"outcome"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_runner_runs_finished_total",
		Help: "Runs that reached COMPLETED, by kind (completed or abandoned)",
	}, []string{"kind"})

	progressSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_runner_progress_saves_total",
		Help: "Progress writes, by result",
	}, []string{"result"})

	navigationRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_runner_navigation_rejected_total",
		Help: "GO_NEXT attempts refused, by reason",
	}, []string{"reason"})

	concurrentRunConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_runner_concurrent_run_conflicts_total",
		Help: "Run inserts that collided with an existing run and fell back to resume",
	})
)

// RunStarted counts a create-or-resume outcome
func RunStarted(outcome string) { runsStarted.WithLabelValues(outcome).Inc() }

// RunFinished counts a run reaching COMPLETED
func RunFinished(abandoned bool) {
	kind := "completed"
	if abandoned {
		kind = "abandoned"
	}
	runsFinished.WithLabelValues(kind).Inc()
}

// ProgressSaved counts a progress write result
func ProgressSaved(result string) { progressSaves.WithLabelValues(result).Inc() }

// NavigationRejected counts a refused GO_NEXT
func NavigationRejected(reason string) { navigationRejected.WithLabelValues(reason).Inc() }

// ConcurrentRunConflict counts an insert that lost the uniqueness race
func ConcurrentRunConflict() { concurrentRunConflicts.Inc() }

// MetricsHandler serves the default prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
