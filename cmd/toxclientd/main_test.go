package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/config"
)

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	if err := setupLogging(config.LogConfig{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T", logrus.StandardLogger().Formatter)
	}
	if err := setupLogging(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestRunSavesProfileOnShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Profile.Path = filepath.Join(t.TempDir(), "profile.tox")
	cfg.API.Listen = "127.0.0.1:0"
	cfg.Audio.InputDevice = ""

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(cfg.Profile.Path); err != nil {
		t.Errorf("profile not written: %v", err)
	}
}

func TestAPIDependenciesCarryRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.API.RateLimit = 3
	cfg.API.Burst = 9
	cfg.Transfers.DownloadDir = "/srv/downloads"

	deps := apiDependencies(cfg, nil, http.NotFoundHandler())
	if deps.RateLimit != 3 || deps.Burst != 9 {
		t.Errorf("rate limit = %v burst = %d", deps.RateLimit, deps.Burst)
	}
	if deps.DownloadDir != "/srv/downloads" || deps.Version != version {
		t.Errorf("deps = %+v", deps)
	}
	if deps.Metrics == nil {
		t.Error("metrics handler dropped")
	}
}
