package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wadispatch/internal/app"
	"wadispatch/internal/config"
	"wadispatch/internal/constants"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wadispatch %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wadispatch")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.ConfigureLogger(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	logger.WithFields(logrus.Fields{
		"send_mode":     cfg.SendMode,
		"phone_numbers": len(cfg.PhoneNumbers),
		"db_driver":     cfg.Database.Driver,
		"rate_backend":  cfg.RateLimits.Backend,
	}).Info("Dispatch services initialized")

	if a.MQTT != nil {
		err := a.MQTT.Subscribe(ctx, cfg.MQTT.InboundTopic, func(msgCtx context.Context, _ string, payload []byte) error {
			return a.Inbound.Process(service.WithVerbose(msgCtx, *verbose), payload)
		})
		if err != nil {
			logger.WithError(err).Warn("Inbound topic subscription failed, relying on the webhook endpoint")
		}
	}

	loops := []*service.Scheduler{
		service.NewScheduler("scheduled_sender", time.Duration(cfg.Scheduler.TickIntervalSec)*time.Second,
			func(jobCtx context.Context) error {
				_, err := a.Scheduled.Tick(jobCtx)
				return err
			}, logger),
		service.NewScheduler("ttl_sweeper", time.Duration(cfg.Scheduler.SweepIntervalSec)*time.Second,
			func(jobCtx context.Context) error {
				_, err := a.Sweeper.Sweep(jobCtx)
				return err
			}, logger),
	}
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(s *service.Scheduler) {
			defer wg.Done()
			s.Start(ctx)
		}(loop)
	}
	defer func() {
		for _, loop := range loops {
			loop.Stop()
		}
		wg.Wait()
	}()

	server := NewServer(a, *verbose)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
