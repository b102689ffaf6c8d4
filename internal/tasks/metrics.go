package tasks

import (
	"fmt"

	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what a harvest did. Each instance owns its registry so runs and tests never share counters.
type Metrics struct {
	Registry *prometheus.Registry

	ArtifactsTotal     *prometheus.CounterVec
	RemoteErrorsTotal  *prometheus.CounterVec
	PlaylistsTotal     *prometheus.CounterVec
	BatchRequestsTotal prometheus.Counter
	LastRunTimestamp   prometheus.Gauge
}

// NewMetrics creates and registers the harvest collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ArtifactsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sparchive_artifacts_total",
				Help: "Artifacts handled by the archive, by kind and result",
			},
			[]string{"kind", "result"},
		),
		RemoteErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sparchive_remote_errors_total",
				Help: "Failed remote API calls, by operation",
			},
			[]string{"operation"},
		),
		PlaylistsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sparchive_playlists_total",
				Help: "Playlists processed, by outcome",
			},
			[]string{"status"},
		),
		BatchRequestsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sparchive_batch_requests_total",
				Help: "Audio features batch requests issued",
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sparchive_last_run_timestamp_seconds",
				Help: "Unix time the metrics were last written",
			},
		),
	}

	m.Registry.MustRegister(
		m.ArtifactsTotal,
		m.RemoteErrorsTotal,
		m.PlaylistsTotal,
		m.BatchRequestsTotal,
		m.LastRunTimestamp,
	)
	return m
}

func (m *Metrics) artifact(kind archive.Kind, res archive.WriteResult) {
	m.ArtifactsTotal.WithLabelValues(kind.String(), res.String()).Inc()
}

func (m *Metrics) remoteError(operation string) {
	m.RemoteErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) playlist(status string) {
	m.PlaylistsTotal.WithLabelValues(status).Inc()
}

// WriteTextfile stamps the run time and writes the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	m.LastRunTimestamp.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
