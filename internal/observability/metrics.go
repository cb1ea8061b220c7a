package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lookout",
		Name:      "frames_processed_total",
		Help:      "Total number of camera frames analyzed",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lookout",
		Name:      "frames_dropped_total",
		Help:      "Frames replaced before the monitor could analyze them",
	})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lookout",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in camera frames",
	})

	Matches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lookout",
		Name:      "matches_total",
		Help:      "Faces matched against the gallery above the confidence threshold",
	})

	LivenessRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lookout",
		Name:      "liveness_rejections_total",
		Help:      "Matched faces rejected by the liveness check",
	})

	DetectionsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lookout",
		Name:      "detections_saved_total",
		Help:      "Detection events persisted",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lookout",
		Name:      "inference_duration_seconds",
		Help:      "Duration of face analysis stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lookout",
		Name:      "store_operation_duration_seconds",
		Help:      "Duration of record store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lookout",
		Name:      "gallery_size",
		Help:      "Gallery entries with at least one descriptor loaded into the matcher",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lookout",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lookout",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
