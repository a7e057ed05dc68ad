package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"signalpulse/config"
	"signalpulse/internal/app"
	"signalpulse/internal/dashboard"
	"signalpulse/internal/metrics"
	"signalpulse/internal/publish"
	"signalpulse/internal/session"
	"signalpulse/internal/theme"
	"signalpulse/logger"
	"signalpulse/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV", "SCANNER_API_URL").WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting signalpulse")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("signalpulse stopped with error")
		os.Exit(1)
	}
	log.Info("signalpulse stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log) error {
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard)
	}

	collector := metrics.New()

	backend, err := app.NewBackend(cfg)
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	publisher := publish.NewDispatcher(cfg.Publish.Buffer, collector, sinks...)

	var themes theme.Store = theme.NewMemoryStore()
	if cfg.Server.ThemeStore != "" {
		fs, err := theme.OpenFileStore(cfg.Server.ThemeStore)
		if err != nil {
			return err
		}
		themes = fs
	}

	hub := dashboard.NewHub()
	registry := session.NewRegistry(cfg.Server.SessionTTL, func(id string) (*session.Controller, error) {
		return backend.Session(session.Options{
			ID:       id,
			Venue:    models.VenueBinance,
			Timeout:  cfg.API.Timeout,
			Recorder: collector,
			OnChange: hub.Publish,
			OnScan: func(report models.ScanReport) {
				if err := publisher.Enqueue(report); err != nil {
					log.WithComponent("main").WithError(err).Debug("scan report not published")
				}
			},
		})
	})
	defer registry.Close()

	server, err := dashboard.NewServer(dashboard.Options{
		Server:    cfg.Server,
		Metrics:   cfg.Metrics,
		AppName:   "SignalPulse",
		Version:   cfg.App.Version,
		Registry:  registry,
		Hub:       hub,
		Themes:    themes,
		Collector: collector,
		Log:       log,

		SecureCookies: config.IsProductionLike(config.AppEnvironment()),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := publisher.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		registry.Run(gctx, cfg.Server.SweepInterval)
		return nil
	})

	log.WithComponent("main").WithFields(logger.Fields{
		"address": server.Address(),
		"sinks":   publisher.Sinks(),
	}).Info("all components started successfully")

	err = g.Wait()
	log.Info("starting graceful shutdown")
	publisher.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildSinks(ctx context.Context, cfg *config.Config) ([]publish.Sink, error) {
	var sinks []publish.Sink
	if cfg.Publish.Kafka.Enabled {
		ks, err := publish.NewKafkaSink(cfg.Publish.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ks)
	}
	if cfg.Publish.S3.Enabled {
		s3, err := publish.NewS3Sink(ctx, cfg.Publish.S3)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3)
	}
	return sinks, nil
}
