package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iomt_telemetry_gateway_build_info",
		Help: "Build information of the telemetry gateway",
	}, []string{"version", "commit", "date"})

	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_registrations_total", Help: "Device registration outcomes.",
	}, []string{"result"})
	Provisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_table_provisions_total", Help: "Telemetry table provisioning outcomes.",
	}, []string{"result"})

	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_exports_total", Help: "Export pipeline outcomes.",
	}, []string{"result"})
	ExportRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_export_rows_total", Help: "Total telemetry rows written to export artifacts.",
	})
	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "iomt_telemetry_gateway_export_duration_seconds",
		Help:    "Wall time of a full export, query through publish.",
		Buckets: prometheus.DefBuckets,
	})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_downloads_total", Help: "Artifact download outcomes.",
	}, []string{"result"})

	AuthDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_auth_denials_total", Help: "Requests denied by the access gate.",
	})

	ArtifactsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iomt_telemetry_gateway_artifacts_reaped_total", Help: "Export artifacts removed by the retention janitor.",
	})
)
