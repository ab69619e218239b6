package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics collects stage timings for a single run and pushes them to a
// Prometheus Pushgateway at the end of the build
type Metrics struct {
	registry        *prometheus.Registry
	stageDuration   *prometheus.GaugeVec
	stageAttempts   *prometheus.GaugeVec
	pipelineSuccess prometheus.Gauge
	pipelineSeconds prometheus.Gauge
}

// NewMetrics creates an isolated registry for one pipeline run
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ci_stage_duration_seconds",
			Help: "Wall time of a CI stage in the last run.",
		}, []string{"stage", "result"}),
		stageAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ci_stage_attempts",
			Help: "Attempts a CI stage needed in the last run.",
		}, []string{"stage"}),
		pipelineSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ci_pipeline_success",
			Help: "1 if the last pipeline run succeeded, 0 otherwise.",
		}),
		pipelineSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ci_pipeline_duration_seconds",
			Help: "Wall time of the last pipeline run.",
		}),
	}
	m.registry.MustRegister(m.stageDuration, m.stageAttempts, m.pipelineSuccess, m.pipelineSeconds)
	return m
}

// ObserveStage records one stage result
func (m *Metrics) ObserveStage(r StageResult) {
	m.stageDuration.WithLabelValues(r.Name, string(r.Result)).Set(r.Duration.Seconds())
	m.stageAttempts.WithLabelValues(r.Name).Set(float64(r.Attempts))
}

// ObservePipeline records the overall outcome
func (m *Metrics) ObservePipeline(success bool, d time.Duration) {
	if success {
		m.pipelineSuccess.Set(1)
	} else {
		m.pipelineSuccess.Set(0)
	}
	m.pipelineSeconds.Set(d.Seconds())
}

// Gatherer exposes the registry, mainly for tests
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Push sends the collected metrics to the Pushgateway at url, grouped by project and branch
func (m *Metrics) Push(url, job, project, branch string) error {
	pusher := push.New(url, job).Gatherer(m.registry).Grouping("project", project)
	if branch != "" {
		pusher = pusher.Grouping("branch", branch)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
