package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ratesink/config"
	"ratesink/internal/codec"
	"ratesink/internal/drain"
	"ratesink/internal/emit/containerfile"
	"ratesink/internal/emit/topicbus"
	"ratesink/internal/introspect"
	"ratesink/pkg/sink"
	"ratesink/pkg/tracing"
)

func main() {
	var configFile string
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}
	if configFile == "" {
		if envConfigFile := os.Getenv("RATESINK_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/etc/ratesink/config.yaml"
		}
	}

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(configFile, logger); err != nil {
		logger.WithError(err).Error("ratesink: fatal error")
		os.Exit(1)
	}
}

// run wires config, tracing, the selected emitter variant, the sink,
// and (optionally) the debug introspection server and the config
// hot-reload watcher, then blocks until an interrupt or term signal.
func run(configFile string, logger *logrus.Logger) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tracer, err := tracing.NewManager(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("build tracing manager: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("ratesink: tracing shutdown failed")
		}
	}()

	emitters, err := buildEmitters(cfg, logger)
	if err != nil {
		return fmt.Errorf("build emitters: %w", err)
	}

	s := sink.New(sink.Config{
		ID:       cfg.Sink.ID,
		RateHz:   cfg.Sink.RateHz,
		Emitters: emitters,
		Logger:   logger,
		Tracer:   tracer,
	})
	if !s.Initialize() {
		return fmt.Errorf("sink failed to initialize (check sink.id and emitter config)")
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.WithError(err).Warn("ratesink: sink close failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Introspect.Enabled {
		introspectSrv := introspect.New(cfg.Introspect.Addr, s, logger)
		introspectSrv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := introspectSrv.Stop(shutdownCtx); err != nil {
				logger.WithError(err).Warn("ratesink: introspect server shutdown failed")
			}
		}()
	}

	reloader, err := config.NewReloader(configFile, cfg, logger, func(fields config.ReloadableFields) {
		logger.WithField("fields", fields).Info("ratesink: config change detected (running sink not reconfigured)")
	})
	if err != nil {
		logger.WithError(err).Warn("ratesink: config hot reload disabled")
	} else {
		reloader.Start(ctx)
		defer reloader.Stop()
	}

	logger.WithFields(logrus.Fields{
		"sink_id": cfg.Sink.ID,
		"variant": cfg.Sink.Variant,
	}).Info("ratesink: started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("ratesink: shutdown signal received")
	return nil
}

func buildEmitters(cfg *config.Config, logger *logrus.Logger) (drain.EmitterFactory, error) {
	switch cfg.Sink.Variant {
	case "containerfile":
		return containerfile.New(containerfile.Config{
			Directory:    cfg.ContainerFile.Directory,
			Extension:    cfg.ContainerFile.Extension,
			Compression:  codec.Algorithm(cfg.ContainerFile.Compression),
			MinFreeBytes: cfg.ContainerFile.MinFreeBytes,
		}, logger)
	case "topicbus":
		return topicbus.New(topicbus.Config{
			Brokers:     cfg.TopicBus.Brokers,
			SinkID:      cfg.Sink.ID,
			TopicPrefix: cfg.TopicBus.TopicPrefix,
			Auth: topicbus.AuthConfig{
				Enabled:   cfg.TopicBus.Auth.Enabled,
				Mechanism: topicbus.AuthMechanism(cfg.TopicBus.Auth.Mechanism),
				Username:  cfg.TopicBus.Auth.Username,
				Password:  cfg.TopicBus.Auth.Password,
			},
		}, logger)
	default:
		return nil, fmt.Errorf("unknown sink variant %q", cfg.Sink.Variant)
	}
}
