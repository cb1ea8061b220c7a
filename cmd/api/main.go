package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/lookout/internal/api"
	"github.com/your-org/lookout/internal/api/handlers"
	"github.com/your-org/lookout/internal/api/ws"
	"github.com/your-org/lookout/internal/archive"
	"github.com/your-org/lookout/internal/capture"
	"github.com/your-org/lookout/internal/config"
	"github.com/your-org/lookout/internal/detection"
	"github.com/your-org/lookout/internal/gallery"
	"github.com/your-org/lookout/internal/geo"
	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/internal/observability"
	"github.com/your-org/lookout/internal/queue"
	"github.com/your-org/lookout/internal/recognition"
	"github.com/your-org/lookout/internal/recognition/onnx"
	"github.com/your-org/lookout/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting lookout API service", "port", cfg.Server.Port, "version", version, "store", cfg.Store.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store, opened in the background
	opener := store.SQLiteOpener(cfg.Store.SQLitePath)
	if cfg.Store.Driver == "postgres" {
		opener = store.PostgresOpener(cfg.Store.Postgres)
	}
	st := store.New(opener, store.Options{
		PollInterval: cfg.Store.InitWait.PollInterval,
		MaxAttempts:  cfg.Store.InitWait.MaxAttempts,
	})
	st.Open(ctx)
	defer st.Close()

	// Snapshot archive (optional)
	var arch *archive.Archive
	if cfg.MinIO.Endpoint != "" {
		arch, err = archive.New(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
	}

	// NATS (optional)
	var producer *queue.Producer
	var consumer *queue.Consumer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}

		consumer, err = queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create nats consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
	}

	// Face analysis. Without it entries are stored without face data and
	// the in-process detector stays off.
	var analyzer recognition.Analyzer
	if shutdown, err := onnx.InitRuntime(""); err != nil {
		slog.Warn("onnx runtime init failed, face analysis unavailable", "error", err)
	} else {
		defer shutdown()
		a, err := onnx.New(onnx.Options{
			ModelsDir: cfg.Vision.ModelsDir,
			InputSize: cfg.Vision.InputSize,
			Threshold: float32(cfg.Vision.DetectionThreshold),
		})
		if err != nil {
			slog.Warn("face models failed to load, face analysis unavailable", "error", err)
		} else {
			defer a.Close()
			analyzer = a
		}
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Gallery change fan-out: in-process subscribers plus remote detectors
	local := queue.NewLocal()
	local.Subscribe(func(context.Context) { hub.BroadcastGalleryChanged() })
	var notifier gallery.Notifier = local
	if producer != nil {
		notifier = queue.Multi{local, producer}
	}

	svc := gallery.New(st, analyzer, notifier)

	// In-process detector
	var detector handlers.Detector
	var monitor *detection.Monitor
	source := ""
	if cfg.Detector.Enabled && analyzer != nil {
		deps := detection.Deps{
			Analyzer: analyzer,
			Store:    st,
			Locator:  geo.NewStatic(cfg.Location),
		}
		if cfg.Capture.Source != "" {
			cam := capture.NewCamera(cfg.Capture.Source, capture.Options{
				InputFormat: cfg.Capture.InputFormat,
				FPS:         cfg.Capture.FPS,
				Width:       cfg.Capture.Width,
				Height:      cfg.Capture.Height,
			})
			deps.Source = cam
			source = cam.Name()
		}
		if arch != nil {
			deps.Archive = arch
		}
		if producer != nil {
			deps.Alerts = producer
		}

		monitor = detection.New(deps, detection.Options{
			Threshold:       cfg.Vision.MatchThreshold,
			LivenessEnabled: cfg.Vision.Liveness(),
			HistorySize:     cfg.Detector.HistorySize,
			CropPadding:     cfg.Detector.CropPadding,
			JPEGQuality:     cfg.Detector.JPEGQuality,
			LocationTimeout: cfg.Detector.LocationTimeout,
			SourceName:      source,
			Version:         version,
		})
		monitor.OnAlert(hub.BroadcastDetection)
		local.Subscribe(func(ctx context.Context) {
			if err := monitor.Reload(ctx); err != nil {
				slog.Warn("reload gallery", "error", err)
			}
		})

		if err := monitor.Init(ctx); err != nil {
			slog.Warn("detector init", "error", err)
		}
		if cfg.Detector.AutoStart {
			if err := monitor.Start(ctx); err != nil {
				slog.Warn("start detector", "error", err)
			}
		}
		detector = monitor
	} else if cfg.Detector.Enabled {
		slog.Warn("detector enabled but face analysis is unavailable")
	}

	// Alerts from detectors running in other processes. The in-process
	// monitor already broadcasts its own through OnAlert.
	if consumer != nil {
		var handle queue.MessageHandler = func(ctx context.Context, msg jetstream.Msg) error {
			var ev models.DetectionEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				slog.Error("unmarshal alert", "error", err)
				return nil // Don't retry on unmarshal errors
			}
			hub.BroadcastDetection(ev)
			return nil
		}
		if monitor != nil {
			handle = queue.SkipSubject(queue.AlertSubject(source), handle)
		}
		if err := consumer.ConsumeAlerts(ctx, "api-alerts", handle); err != nil {
			slog.Warn("start alert consumer", "error", err)
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		Store:    st,
		Gallery:  svc,
		Hub:      hub,
		Detector: detector,
		Archive:  arch,
		Producer: producer,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if monitor != nil {
		monitor.Stop()
	}
	cancel()
	local.Wait()

	slog.Info("API server stopped")
}
