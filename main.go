package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mpromonet/flowercam/config"
	"github.com/mpromonet/flowercam/detector"
	"github.com/mpromonet/flowercam/logger"
	"github.com/mpromonet/flowercam/monitor"
	"github.com/mpromonet/flowercam/overlay"
)

var (
	configPath = flag.String("config", "config.yaml", "path to configuration file")
	modelPath  = flag.String("model", "", "path to model file, overrides the configuration")
	labelPath  = flag.String("label", "", "path to label file, overrides the configuration")
	addr       = flag.String("addr", "", "HTTP listen address, overrides the configuration")
	device     = flag.String("device", "", "capture device or URL, \"none\" disables capture")
)

func loadConfig() (config.Config, error) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(*configPath, !explicit)
	if err != nil {
		return cfg, err
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *labelPath != "" {
		cfg.Model.Labels = *labelPath
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	switch *device {
	case "":
	case "none":
		cfg.Camera.Device = ""
	default:
		cfg.Camera.Device = *device
	}
	return cfg, cfg.Validate()
}

func newExporter(cfg config.Config) overlay.Exporter {
	exporters := overlay.MultiExporter{overlay.GalleryExporter{Dir: cfg.Export.Dir, Quality: cfg.Export.Quality}}
	if cfg.Export.UploadURL != "" {
		exporters = append(exporters, overlay.NewUploadExporter(cfg.Export.UploadURL, cfg.Export.Quality, cfg.Export.UploadTimeout))
	}
	return exporters
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		_ = logger.InitProduction()
		logger.Log().Fatal("invalid configuration", zap.Error(err))
	}
	if err := logger.Init(cfg.Log.Mode, cfg.Log.Level); err != nil {
		_ = logger.InitProduction()
		logger.Log().Warn("falling back to production logger", zap.Error(err))
	}
	defer logger.Sync()
	log := logger.Log()

	opts := cfg.DetectorOptions()
	opts.Logger = logger.Named("detector")
	det, err := detector.Setup(cfg.Model.Path, cfg.Model.Labels, opts)
	if err != nil {
		log.Fatal("detector setup failed", zap.Error(err))
	}

	renderer := overlay.NewRenderer()
	events := detector.NewChannelListener(8)
	pipeline := detector.NewPipeline(det, events, logger.Named("pipeline"))
	session := NewSession(pipeline, events.Events(), renderer, logger.Named("session"))

	mon, err := monitor.New(pipeline.Stats, logger.Named("monitor"))
	if err != nil {
		log.Warn("process metrics unavailable", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		session.Run(context.Background())
	}()
	if mon != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Run(ctx, 500*time.Millisecond)
		}()
	}
	if cfg.Camera.Device != "" {
		cam := &Camera{
			Device:   cfg.Camera.Device,
			Rotation: cfg.Camera.Rotation,
			Mirrored: cfg.Camera.Mirrored,
			FPS:      cfg.Camera.FPS,
			logger:   logger.Named("camera"),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cam.Run(ctx, session.Submit); err != nil && !errors.Is(err, detector.ErrPipelineClosed) {
				log.Error("capture stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Log.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &Server{
		runner:    det,
		stats:     pipeline.Stats,
		session:   session,
		renderer:  renderer,
		exporter:  newExporter(cfg),
		monitor:   mon,
		logger:    logger.Named("http"),
		surfaceW:  cfg.Overlay.Width,
		surfaceH:  cfg.Overlay.Height,
		staticDir: cfg.HTTP.StaticDir,
	}
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	err = multierr.Append(err, pipeline.Close())
	wg.Wait()
	events.Close()
	<-sessionDone
	err = multierr.Append(err, det.Close())
	if err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("stats", zap.Any("pipeline", pipeline.Stats()))
}
