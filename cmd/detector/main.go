package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/lookout/internal/archive"
	"github.com/your-org/lookout/internal/capture"
	"github.com/your-org/lookout/internal/config"
	"github.com/your-org/lookout/internal/detection"
	"github.com/your-org/lookout/internal/geo"
	"github.com/your-org/lookout/internal/observability"
	"github.com/your-org/lookout/internal/queue"
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

	if cfg.Capture.Source == "" {
		slog.Error("capture.source is required")
		os.Exit(1)
	}

	slog.Info("starting lookout detector",
		"version", version,
		"cpu_cores", runtime.NumCPU(),
		"fps", cfg.Capture.FPS,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ONNX Runtime
	shutdown, err := onnx.InitRuntime("")
	if err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer shutdown()

	analyzer, err := onnx.New(onnx.Options{
		ModelsDir: cfg.Vision.ModelsDir,
		InputSize: cfg.Vision.InputSize,
		Threshold: float32(cfg.Vision.DetectionThreshold),
	})
	if err != nil {
		slog.Error("load face models", "error", err)
		os.Exit(1)
	}
	defer analyzer.Close()

	// Record store
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

	cam := capture.NewCamera(cfg.Capture.Source, capture.Options{
		InputFormat: cfg.Capture.InputFormat,
		FPS:         cfg.Capture.FPS,
		Width:       cfg.Capture.Width,
		Height:      cfg.Capture.Height,
	})

	deps := detection.Deps{
		Analyzer: analyzer,
		Store:    st,
		Source:   cam,
		Locator:  geo.NewStatic(cfg.Location),
	}

	if cfg.MinIO.Endpoint != "" {
		arch, err := archive.New(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		deps.Archive = arch
	}

	var consumer *queue.Consumer
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		deps.Alerts = producer

		consumer, err = queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
	}

	monitor := detection.New(deps, detection.Options{
		Threshold:       cfg.Vision.MatchThreshold,
		LivenessEnabled: cfg.Vision.Liveness(),
		HistorySize:     cfg.Detector.HistorySize,
		CropPadding:     cfg.Detector.CropPadding,
		JPEGQuality:     cfg.Detector.JPEGQuality,
		LocationTimeout: cfg.Detector.LocationTimeout,
		SourceName:      cam.Name(),
		Version:         version,
	})
	if err := monitor.Init(ctx); err != nil {
		slog.Error("load gallery", "error", err)
		os.Exit(1)
	}

	// Reload the gallery whenever the API changes it
	if consumer != nil {
		reload := make(chan struct{}, 1)
		if err := consumer.OnGalleryChanged(func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		}); err != nil {
			slog.Warn("subscribe to gallery changes", "error", err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-reload:
					if err := monitor.Reload(ctx); err != nil {
						slog.Warn("reload gallery", "error", err)
					}
				}
			}
		}()
	}

	if err := monitor.Start(ctx); err != nil {
		slog.Error("start detector", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !monitor.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"stopped"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv.Handler = mux
	go func() {
		slog.Info("detector metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report status
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := monitor.Status()
				slog.Info("detector status",
					"running", s.Running,
					"frames", s.FramesProcessed,
					"detections", s.Detections,
					"gallery", s.GallerySize,
					"last_error", s.LastError,
				)
			}
		}
	}()

	slog.Info("detector running", "source", cam.Name())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down detector...")
	monitor.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	slog.Info("detector stopped")
}
