// Command toxclientd runs a client session and serves its HTTP control API.
//
// The session runs on an in-process loopback network with one bootstrap
// node, which makes the daemon usable for development and integration
// tests without touching the public DHT:
//
//	toxclientd -config toxclient.yaml
//	curl localhost:8642/v1/self
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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/api"
	"github.com/opd-ai/toxclient/av/audio"
	"github.com/opd-ai/toxclient/config"
	"github.com/opd-ai/toxclient/engine/loopback"
	"github.com/opd-ai/toxclient/metrics"
	"github.com/opd-ai/toxclient/session"
)

var version = "dev"

const (
	bootstrapHost = "127.0.0.1"
	bootstrapPort = 33445
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with TOXCLIENT_ overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"file":     *envFile,
			"error":    err.Error(),
		}).Warn("Could not load env file, using process environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if err := setupLogging(cfg.Log); err != nil {
		logrus.WithError(err).Fatal("Invalid log configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("Client stopped with an error")
	}
}

func setupLogging(c config.LogConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func apiDependencies(cfg config.Config, s *session.Session, metricsHandler http.Handler) api.Dependencies {
	return api.Dependencies{
		Session:     s,
		Metrics:     metricsHandler,
		DownloadDir: cfg.Transfers.DownloadDir,
		Version:     version,
		RateLimit:   cfg.API.Limit(),
		Burst:       cfg.API.Burst,
	}
}

func run(ctx context.Context, cfg config.Config) error {
	network := loopback.NewNetwork()
	node, err := network.AddBootstrapNode(bootstrapHost, bootstrapPort)
	if err != nil {
		return fmt.Errorf("start bootstrap node: %w", err)
	}
	defer node.Kill()

	opts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}
	opts.Bootstrap = append([]session.BootstrapNode{{
		Address:   bootstrapHost,
		Port:      bootstrapPort,
		PublicKey: node.SelfPublicKey().String(),
	}}, opts.Bootstrap...)

	m := metrics.New()
	opts.Observer = m
	opts.File.Stats = m
	opts.AV.Stats = m
	opts.AV.Device = audio.NewMemoryDevice()

	s, err := session.New(network.Factory(), opts)
	if err != nil {
		return err
	}
	s.Subscribe(m.HandleEvent)

	if cfg.Audio.InputDevice != "" {
		if err := s.Calls().SetAudioInput(cfg.Audio.InputDevice); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"device":   cfg.Audio.InputDevice,
				"error":    err.Error(),
			}).Warn("Audio input unavailable, calls will be receive-only")
		}
	}

	if err := s.Start(ctx); err != nil {
		s.Close()
		return err
	}
	self := s.Presence().Self()
	logrus.WithFields(logrus.Fields{
		"function": "run",
		"address":  self.Address.String(),
		"version":  version,
	}).Info("Client started")

	var httpServer *http.Server
	var apiServer *api.Server
	serveErr := make(chan error, 1)
	if cfg.API.Enabled {
		apiServer = api.NewServer(apiDependencies(cfg, s, m.Handler()))
		httpServer = &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           apiServer.Router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logrus.WithField("listen", cfg.API.Listen).Info("API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		apiServer.Close()
	}
	if err := s.Close(); err != nil {
		logrus.WithError(err).Warn("Session closed with an error")
		if runErr == nil {
			runErr = err
		}
	}
	logrus.Info("Client stopped")
	return runErr
}
