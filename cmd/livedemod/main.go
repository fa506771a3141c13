// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command livedemod runs the live demonstration stream controller: it
// negotiates bounded sessions with the demo broker, renders the selected
// feed with detection overlays and exposes the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/halocam/livedemo/internal/adapter"
	"github.com/halocam/livedemo/internal/api"
	"github.com/halocam/livedemo/internal/broker"
	"github.com/halocam/livedemo/internal/config"
	"github.com/halocam/livedemo/internal/detect"
	"github.com/halocam/livedemo/internal/live"
	xlog "github.com/halocam/livedemo/internal/log"
	"github.com/halocam/livedemo/internal/overlay"
	"github.com/halocam/livedemo/internal/resilience"
	"github.com/halocam/livedemo/internal/source"
	"github.com/halocam/livedemo/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the real config is loaded.
	xlog.Configure(xlog.Config{
		Level:   "info",
		Service: "livedemo",
		Version: version,
	})
	logger := xlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xlog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "livedemo",
		Version: version,
	})

	tele, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTLPEndpoint != "",
		ServiceName:    "livedemo",
		ServiceVersion: version,
		ExporterType:   cfg.OTLPProtocol,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		if err := tele.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	breaker := resilience.NewCircuitBreaker("broker", cfg.CircuitThreshold, cfg.CircuitReset)
	brokerClient := broker.New(cfg.BrokerURL,
		broker.WithHTTPClient(httpClient),
		broker.WithCircuitBreaker(breaker),
	)
	catalog := source.NewCatalog(cfg.CatalogURL, source.WithHTTPClient(httpClient))

	surface := adapter.NewFrameBuffer(cfg.FrameWidth, cfg.FrameHeight)
	renderer := overlay.NewRenderer(surface)

	ctrl, err := live.NewController(brokerClient, catalog, surface)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build session controller")
	}
	defer ctrl.Close(context.Background())

	bus := detect.NewBus()
	defer bus.Close()

	if err := ctrl.SetCategory(ctx, cfg.Category); err != nil {
		logger.Warn().
			Err(err).
			Str(xlog.FieldCategory, cfg.Category).
			Msg("initial catalog fetch failed, continuing without candidates")
	}
	if cfg.AutoStart {
		if err := ctrl.StartAuto(ctx); err != nil {
			logger.Warn().Err(err).Msg("automatic session start failed")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	apiServer := api.New(ctrl, surface, api.Config{
		Version:      version,
		RequestLimit: cfg.RequestLimit,
		Tracing:      cfg.OTLPEndpoint != "",
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		runDetectionLoop(gctx, ctrl, bus, renderer, cfg.PushURL)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = ctrl.Stop(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

// runDetectionLoop follows the active session: it subscribes the detection
// bus to the playing camera, feeds the push channel when configured and
// renders overlays onto each delivered event. Subscriptions track session
// changes once per second.
func runDetectionLoop(ctx context.Context, ctrl *live.Controller, bus *detect.Bus, renderer *overlay.Renderer, pushURL string) {
	logger := xlog.WithComponent("detection-loop")

	var (
		currentCam string
		sub        detect.Subscriber
		pushCancel context.CancelFunc
	)
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
		if pushCancel != nil {
			pushCancel()
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var events <-chan detect.Event
		if sub != nil {
			events = sub.C()
		}

		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				sub = nil
				continue
			}
			renderer.Render(ev)

		case <-ticker.C:
			cam := ""
			if sess := ctrl.ActiveSession(); sess != nil {
				cam = sess.SourceID
			}
			if cam == currentCam {
				continue
			}

			if sub != nil {
				_ = sub.Close()
				sub = nil
			}
			if pushCancel != nil {
				pushCancel()
				pushCancel = nil
			}
			currentCam = cam
			if cam == "" {
				continue
			}

			sub = bus.Subscribe(cam)
			if pushURL != "" {
				pushCtx, cancel := context.WithCancel(ctx)
				pushCancel = cancel
				client := detect.NewPushClient(pushURL)
				go func(cam string) {
					if err := client.Run(pushCtx, cam, bus); err != nil && pushCtx.Err() == nil {
						logger.Warn().
							Err(err).
							Str(xlog.FieldCameraID, cam).
							Msg("push channel disconnected")
					}
				}(cam)
			}
			logger.Info().Str(xlog.FieldCameraID, cam).Msg("following detections for camera")
		}
	}
}
