// Package metrics provides Prometheus metrics for the avatar pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage execution metrics
var (
	// stageExecutionTotal records every external-tool stage invocation.
	// Labels:
	//   - stage: Stage name (e.g., "sadtalker", "liveportrait")
	//   - status: "success", "failed" or "error" (spawn failure)
	stageExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_stage_executions_total",
			Help: "Total number of external tool stage executions",
		},
		[]string{"stage", "status"},
	)

	// stageExecutionDuration records how long each stage blocked the pipeline.
	// Buckets: 1s up to 1 hour; generative tools are slow.
	stageExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "avatar_stage_duration_seconds",
			Help:    "Duration of external tool stage executions in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"stage"},
	)

	// artifactsSweptTotal counts byproduct files moved aside by the artifact locator.
	artifactsSweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_artifacts_swept_total",
			Help: "Total number of byproduct files swept out of a stage output directory",
		},
		[]string{"stage"},
	)

	// audioConversionsTotal counts preprocessing outcomes per source file.
	// Labels:
	//   - status: "converted", "skipped" or "failed"
	audioConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_audio_conversions_total",
			Help: "Total number of audio preprocessing outcomes",
		},
		[]string{"status"},
	)

	// pipelineRunsTotal counts finished pipeline runs.
	// Labels:
	//   - result: "success" or the failing error code
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_pipeline_runs_total",
			Help: "Total number of pipeline runs by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(stageExecutionTotal)
	prometheus.MustRegister(stageExecutionDuration)
	prometheus.MustRegister(artifactsSweptTotal)
	prometheus.MustRegister(audioConversionsTotal)
	prometheus.MustRegister(pipelineRunsTotal)
}

// RecordStageExecution records a stage execution outcome.
func RecordStageExecution(stage, status string) {
	stageExecutionTotal.WithLabelValues(stage, status).Inc()
}

// RecordStageDuration records the wall time of a stage in seconds.
func RecordStageDuration(stage string, durationSeconds float64) {
	stageExecutionDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordArtifactsSwept adds n swept byproduct files for stage.
func RecordArtifactsSwept(stage string, n int) {
	if n <= 0 {
		return
	}
	artifactsSweptTotal.WithLabelValues(stage).Add(float64(n))
}

// RecordAudioConversion records one preprocessing outcome.
func RecordAudioConversion(status string) {
	audioConversionsTotal.WithLabelValues(status).Inc()
}

// RecordPipelineRun records a finished run.
func RecordPipelineRun(result string) {
	pipelineRunsTotal.WithLabelValues(result).Inc()
}

// WriteTextfile dumps the default registry in the text exposition format,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Handler exposes the default registry over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
