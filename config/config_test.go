package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opd-ai/toxclient/engine"
)

const testKey = "F404ABAA1C99A9D37D61AB54898F56793E1DEF8BD46B1038B9D822E8460FAB67"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
profile:
  path: /var/lib/toxclient/alice.tox
network:
  udp: false
  bootstrap:
    - address: node.example
      port: 33445
      publicKey: `+testKey+`
transfers:
  maxSendRateKBps: 256
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Profile.Path != "/var/lib/toxclient/alice.tox" {
		t.Errorf("profile path = %q", cfg.Profile.Path)
	}
	if cfg.Network.UDP {
		t.Error("udp should be disabled by the file")
	}
	if !cfg.Network.IPv6 {
		t.Error("ipv6 default lost by merge")
	}
	if len(cfg.Network.Bootstrap) != 1 || cfg.Network.Bootstrap[0].Port != 33445 {
		t.Errorf("bootstrap = %+v", cfg.Network.Bootstrap)
	}
	if cfg.Transfers.MaxSendRateKBps != 256 {
		t.Errorf("maxSendRateKBps = %d", cfg.Transfers.MaxSendRateKBps)
	}
	if cfg.Transfers.ChunksPerTick != Default().Transfers.ChunksPerTick {
		t.Errorf("chunksPerTick default lost: %d", cfg.Transfers.ChunksPerTick)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample rate default lost: %d", cfg.Audio.SampleRate)
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Listen != Default().API.Listen {
		t.Errorf("listen = %q", cfg.API.Listen)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{"unknown_key", "network:\n  udpp: true\n", false},
		{"bad_yaml", "network: [\n", false},
		{"bad_level", "log:\n  level: loud\n", true},
		{"bad_proxy", "network:\n  proxy:\n    type: socks4\n", true},
		{"proxy_without_host", "network:\n  proxy:\n    type: socks5\n", true},
		{"bad_frame", "audio:\n  frameMs: 25\n", true},
		{"bad_channels", "audio:\n  channels: 6\n", true},
		{"gain_too_high", "audio:\n  inputGain: 9\n", true},
		{"zero_gain", "audio:\n  inputGain: 0\n", true},
		{"bad_node_key", "network:\n  bootstrap:\n    - address: a\n      port: 1\n      publicKey: abc\n", true},
		{"negative_rate", "transfers:\n  maxSendRateKBps: -1\n", true},
		{"negative_api_rate", "api:\n  rateLimit: -1\n", true},
		{"negative_api_burst", "api:\n  burst: -5\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrInvalidConfig); got != tt.invalid {
				t.Errorf("errors.Is(ErrInvalidConfig) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	cfg.Transfers.ChunksPerTick = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"log.format", "transfers.chunksPerTick"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOXCLIENT_PROFILE", "/tmp/env.tox")
	t.Setenv("TOXCLIENT_UDP", "false")
	t.Setenv("TOXCLIENT_PROXY_TYPE", "socks5")
	t.Setenv("TOXCLIENT_PROXY_HOST", "127.0.0.1")
	t.Setenv("TOXCLIENT_PROXY_PORT", "9050")
	t.Setenv("TOXCLIENT_INPUT_GAIN", "1.5")
	t.Setenv("TOXCLIENT_BOOTSTRAP", "node.example:33445:"+testKey+", [::1]:33446:"+testKey)
	t.Setenv("TOXCLIENT_LOG_FORMAT", " json ")
	t.Setenv("TOXCLIENT_API_RATE_LIMIT", "2.5")
	t.Setenv("TOXCLIENT_API_BURST", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Profile.Path != "/tmp/env.tox" {
		t.Errorf("profile = %q", cfg.Profile.Path)
	}
	if cfg.Network.UDP {
		t.Error("udp override ignored")
	}
	if cfg.Network.Proxy.Port != 9050 {
		t.Errorf("proxy port = %d", cfg.Network.Proxy.Port)
	}
	if cfg.Audio.InputGain != 1.5 {
		t.Errorf("gain = %v", cfg.Audio.InputGain)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
	if len(cfg.Network.Bootstrap) != 2 || cfg.Network.Bootstrap[1].Address != "::1" {
		t.Errorf("bootstrap = %+v", cfg.Network.Bootstrap)
	}
	if cfg.API.Limit() != 2.5 || cfg.API.Burst != 7 {
		t.Errorf("api rate = %v burst = %d", cfg.API.Limit(), cfg.API.Burst)
	}
}

func TestEnvOverrideErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bool", "TOXCLIENT_IPV6", "maybe"},
		{"port", "TOXCLIENT_PROXY_PORT", "70000"},
		{"rate", "TOXCLIENT_MAX_SEND_RATE_KBPS", "fast"},
		{"gain", "TOXCLIENT_INPUT_GAIN", "loud"},
		{"api_rate", "TOXCLIENT_API_RATE_LIMIT", "many"},
		{"api_burst", "TOXCLIENT_API_BURST", "1.5"},
		{"nodes", "TOXCLIENT_BOOTSTRAP", "node.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			err := ApplyEnvOverrides(&cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestParseNodes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"one", "a.example:1:" + testKey, 1, false},
		{"two_with_spaces", " a:1:k , b:2:k ", 2, false},
		{"trailing_comma", "a:1:k,", 1, false},
		{"no_port", "a:k", 0, true},
		{"bad_port", "a:x:k", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := ParseNodes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(nodes) != tt.want {
				t.Errorf("got %d nodes, want %d", len(nodes), tt.want)
			}
		})
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Profile.Passphrase = "hunter2"
	cfg.Network.Proxy = ProxyConfig{Type: "http", Host: "proxy.local", Port: 3128}
	cfg.Network.Bootstrap = []NodeConfig{{Address: "node.example", Port: 33445, PublicKey: testKey}}
	cfg.Network.ShuffleBootstrap = true
	cfg.Transfers.MaxSendRateKBps = 64
	cfg.Audio.Channels = 2
	cfg.Audio.FrameMs = 40
	cfg.Audio.InputGain = 2
	cfg.Audio.OutputDevice = "speakers"

	opts, err := cfg.SessionOptions()
	if err != nil {
		t.Fatalf("SessionOptions: %v", err)
	}
	if opts.Proxy.Type != engine.ProxyTypeHTTP || opts.Proxy.Port != 3128 {
		t.Errorf("proxy = %+v", opts.Proxy)
	}
	if opts.SavePassphrase != "hunter2" || opts.ProfilePath != cfg.Profile.Path {
		t.Errorf("profile options = %q %q", opts.SavePassphrase, opts.ProfilePath)
	}
	if len(opts.Bootstrap) != 1 || !opts.ShuffleBootstrap {
		t.Errorf("bootstrap = %+v shuffle=%v", opts.Bootstrap, opts.ShuffleBootstrap)
	}
	if opts.File.MaxSendRateKBps != 64 {
		t.Errorf("file options = %+v", opts.File)
	}
	if opts.AV.Settings.AudioChannels != 2 || opts.AV.Settings.AudioFrameDuration != 40 {
		t.Errorf("codec settings = %+v", opts.AV.Settings)
	}
	if opts.AV.InputGain != 2 || opts.AV.OutputDevice != "speakers" {
		t.Errorf("av options = %+v", opts.AV)
	}
}
