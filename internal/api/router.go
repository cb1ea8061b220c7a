package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/lookout/internal/api/handlers"
	"github.com/your-org/lookout/internal/api/ws"
	"github.com/your-org/lookout/internal/archive"
	"github.com/your-org/lookout/internal/auth"
	"github.com/your-org/lookout/internal/gallery"
	"github.com/your-org/lookout/internal/queue"
	"github.com/your-org/lookout/internal/store"
)

type RouterConfig struct {
	APIKey  string
	Store   *store.Store
	Gallery *gallery.Service
	Hub     *ws.Hub
	// Optional.
	Detector handlers.Detector
	Archive  *archive.Archive
	Producer *queue.Producer
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	checks := map[string]handlers.Pinger{"store": cfg.Store}
	if cfg.Archive != nil {
		checks["minio"] = cfg.Archive
	}
	if cfg.Producer != nil {
		checks["nats"] = handlers.PingFunc(func(context.Context) error { return cfg.Producer.Ping() })
	}
	systemH := handlers.NewSystemHandler(checks, cfg.Store)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Gallery
	galleryH := handlers.NewGalleryHandler(cfg.Gallery)
	v1.POST("/gallery", galleryH.Create)
	v1.GET("/gallery", galleryH.List)
	v1.GET("/gallery/:id", galleryH.Get)
	v1.PUT("/gallery/:id", galleryH.Update)
	v1.DELETE("/gallery/:id", galleryH.Delete)
	v1.GET("/gallery/:id/detections", galleryH.Detections)

	// Detections, export and import
	var snapshots handlers.SnapshotSource
	if cfg.Archive != nil {
		snapshots = cfg.Archive
	}
	detectionH := handlers.NewDetectionHandler(cfg.Store, cfg.Gallery, snapshots)
	v1.GET("/detections", detectionH.List)
	v1.DELETE("/detections", detectionH.Clear)
	v1.GET("/snapshots/*key", detectionH.Snapshot)
	v1.GET("/export", detectionH.Export)
	v1.POST("/import", detectionH.Import)

	// Detector control, only when the monitor runs in this process
	if cfg.Detector != nil {
		detectorH := handlers.NewDetectorHandler(cfg.Detector)
		v1.GET("/detector", detectorH.Get)
		v1.POST("/detector/start", detectorH.Start)
		v1.POST("/detector/stop", detectorH.Stop)
		v1.PATCH("/detector", detectorH.Update)
		v1.POST("/detector/reload", detectorH.Reload)
	}

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("X-API-Key")
	c.AddExposeHeaders("Content-Disposition")
	return c
}
