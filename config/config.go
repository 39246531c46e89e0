// Package config loads the daemon configuration from YAML with
// TOXCLIENT_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/toxclient/av"
	"github.com/opd-ai/toxclient/av/audio"
	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/session"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix starts every environment override.
const EnvPrefix = "TOXCLIENT_"

// Config is the daemon configuration.
type Config struct {
	Profile   ProfileConfig   `yaml:"profile"`
	Network   NetworkConfig   `yaml:"network"`
	Transfers TransfersConfig `yaml:"transfers"`
	Audio     AudioConfig     `yaml:"audio"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

// ProfileConfig locates the save file. An empty passphrase stores it in
// the clear.
type ProfileConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

// NetworkConfig holds the engine transport options and the bootstrap list.
type NetworkConfig struct {
	IPv6             bool         `yaml:"ipv6"`
	UDP              bool         `yaml:"udp"`
	Proxy            ProxyConfig  `yaml:"proxy"`
	Bootstrap        []NodeConfig `yaml:"bootstrap"`
	ShuffleBootstrap bool         `yaml:"shuffleBootstrap"`
}

// ProxyConfig selects an outbound proxy. Type is none, http or socks5.
type ProxyConfig struct {
	Type string `yaml:"type"`
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// NodeConfig is one bootstrap node.
type NodeConfig struct {
	Address   string `yaml:"address"`
	Port      uint16 `yaml:"port"`
	PublicKey string `yaml:"publicKey"`
}

// TransfersConfig tunes the file pump. Zero MaxSendRateKBps is unlimited.
type TransfersConfig struct {
	ChunksPerTick   int    `yaml:"chunksPerTick"`
	MaxSendRateKBps int    `yaml:"maxSendRateKBps"`
	DownloadDir     string `yaml:"downloadDir"`
}

// AudioConfig describes the call codec and the local audio devices.
type AudioConfig struct {
	SampleRate   uint32  `yaml:"sampleRate"`
	Channels     uint8   `yaml:"channels"`
	FrameMs      uint16  `yaml:"frameMs"`
	InputDevice  string  `yaml:"inputDevice"`
	OutputDevice string  `yaml:"outputDevice"`
	InputGain    float64 `yaml:"inputGain"`
	VideoBitrate uint32  `yaml:"videoBitrate"`
	AudioBitrate uint32  `yaml:"audioBitrate"`
}

// APIConfig controls the HTTP API. RateLimit is in requests per second
// across all clients; zero disables limiting.
type APIConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
}

// Limit returns RateLimit for the API server.
func (a APIConfig) Limit() rate.Limit {
	return rate.Limit(a.RateLimit)
}

// LogConfig sets the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used for every key a file omits.
func Default() Config {
	codec := engine.DefaultCodecSettings()
	return Config{
		Profile: ProfileConfig{Path: "profile.tox"},
		Network: NetworkConfig{IPv6: true, UDP: true},
		Transfers: TransfersConfig{
			ChunksPerTick: file.DefaultChunksPerTick,
			DownloadDir:   "downloads",
		},
		Audio: AudioConfig{
			SampleRate:   codec.AudioSampleRate,
			Channels:     codec.AudioChannels,
			FrameMs:      codec.AudioFrameDuration,
			InputGain:    1,
			VideoBitrate: codec.VideoBitrate,
			AudioBitrate: codec.AudioBitrate,
		},
		API: APIConfig{
			Enabled:   true,
			Listen:    "127.0.0.1:8642",
			RateLimit: 50,
			Burst:     100,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Load",
		"path":      path,
		"bootstrap": len(cfg.Network.Bootstrap),
	}).Debug("Configuration loaded")
	return cfg, nil
}

// decode rejects unknown keys so that typos do not pass silently.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnvOverrides replaces values from TOXCLIENT_* variables. Unset or
// blank variables are ignored; malformed ones are an error.
func ApplyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, set func(string) error) {
		v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
		if v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, v, err))
		}
	}

	str("PROFILE", &cfg.Profile.Path)
	str("PASSPHRASE", &cfg.Profile.Passphrase)
	str("PROXY_TYPE", &cfg.Network.Proxy.Type)
	str("PROXY_HOST", &cfg.Network.Proxy.Host)
	str("DOWNLOAD_DIR", &cfg.Transfers.DownloadDir)
	str("INPUT_DEVICE", &cfg.Audio.InputDevice)
	str("OUTPUT_DEVICE", &cfg.Audio.OutputDevice)
	str("API_LISTEN", &cfg.API.Listen)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	parse("IPV6", boolInto(&cfg.Network.IPv6))
	parse("UDP", boolInto(&cfg.Network.UDP))
	parse("SHUFFLE_BOOTSTRAP", boolInto(&cfg.Network.ShuffleBootstrap))
	parse("API_ENABLED", boolInto(&cfg.API.Enabled))
	parse("PROXY_PORT", func(v string) error {
		p, err := strconv.ParseUint(v, 10, 16)
		cfg.Network.Proxy.Port = uint16(p)
		return err
	})
	parse("MAX_SEND_RATE_KBPS", func(v string) error {
		n, err := strconv.Atoi(v)
		cfg.Transfers.MaxSendRateKBps = n
		return err
	})
	parse("API_RATE_LIMIT", func(v string) error {
		r, err := strconv.ParseFloat(v, 64)
		cfg.API.RateLimit = r
		return err
	})
	parse("API_BURST", func(v string) error {
		n, err := strconv.Atoi(v)
		cfg.API.Burst = n
		return err
	})
	parse("INPUT_GAIN", func(v string) error {
		g, err := strconv.ParseFloat(v, 64)
		cfg.Audio.InputGain = g
		return err
	})
	parse("BOOTSTRAP", func(v string) error {
		nodes, err := ParseNodes(v)
		cfg.Network.Bootstrap = nodes
		return err
	})

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func boolInto(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
		return err
	}
}

// ParseNodes reads a comma separated list of host:port:publickey entries.
func ParseNodes(s string) ([]NodeConfig, error) {
	var nodes []NodeConfig
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		i := strings.LastIndex(entry, ":")
		if i < 0 {
			return nil, fmt.Errorf("node %q: want host:port:publickey", entry)
		}
		hostPort, key := entry[:i], entry[i+1:]
		j := strings.LastIndex(hostPort, ":")
		if j < 0 {
			return nil, fmt.Errorf("node %q: want host:port:publickey", entry)
		}
		port, err := strconv.ParseUint(hostPort[j+1:], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("node %q: port: %w", entry, err)
		}
		nodes = append(nodes, NodeConfig{
			Address:   strings.Trim(hostPort[:j], "[]"),
			Port:      uint16(port),
			PublicKey: key,
		})
	}
	return nodes, nil
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format: %q is not text or json", c.Log.Format)
	}

	proxy, err := engine.ParseProxyType(c.Network.Proxy.Type)
	if err != nil {
		add("network.proxy.type: %w", err)
	} else if proxy != engine.ProxyTypeNone && (c.Network.Proxy.Host == "" || c.Network.Proxy.Port == 0) {
		add("network.proxy: %s proxy needs host and port", c.Network.Proxy.Type)
	}
	for i, n := range c.Network.Bootstrap {
		if err := n.node().Validate(); err != nil {
			add("network.bootstrap[%d]: %w", i, err)
		}
	}

	if c.Transfers.ChunksPerTick < 0 {
		add("transfers.chunksPerTick: must not be negative")
	}
	if c.Transfers.MaxSendRateKBps < 0 {
		add("transfers.maxSendRateKBps: must not be negative")
	}

	if err := c.Audio.format().Validate(); err != nil {
		add("audio: %w", err)
	}
	switch c.Audio.FrameMs {
	case 10, 20, 40, 60:
	default:
		add("audio.frameMs: %d is not one of 10, 20, 40, 60", c.Audio.FrameMs)
	}
	if _, err := audio.NewGain(c.Audio.InputGain); err != nil {
		add("audio.inputGain: %w", err)
	} else if c.Audio.InputGain == 0 {
		add("audio.inputGain: must be positive")
	}

	if c.API.Enabled && c.API.Listen == "" {
		add("api.listen: required when the API is enabled")
	}
	if c.API.RateLimit < 0 || math.IsNaN(c.API.RateLimit) {
		add("api.rateLimit: must not be negative")
	}
	if c.API.Burst < 0 {
		add("api.burst: must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (n NodeConfig) node() session.BootstrapNode {
	return session.BootstrapNode{Address: n.Address, Port: n.Port, PublicKey: n.PublicKey}
}

func (a AudioConfig) format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
}

// CodecSettings returns the call settings the audio section describes.
func (a AudioConfig) CodecSettings() engine.CodecSettings {
	s := engine.DefaultCodecSettings()
	s.AudioSampleRate = a.SampleRate
	s.AudioChannels = a.Channels
	s.AudioFrameDuration = a.FrameMs
	s.AudioBitrate = a.AudioBitrate
	s.VideoBitrate = a.VideoBitrate
	return s
}

// SessionOptions converts a validated configuration. The caller adds the
// audio device, the stats sinks and the tick observer.
func (c Config) SessionOptions() (session.Options, error) {
	proxy, err := engine.ParseProxyType(c.Network.Proxy.Type)
	if err != nil {
		return session.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	gain, err := audio.NewGain(c.Audio.InputGain)
	if err != nil {
		return session.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	nodes := make([]session.BootstrapNode, 0, len(c.Network.Bootstrap))
	for _, n := range c.Network.Bootstrap {
		nodes = append(nodes, n.node())
	}

	return session.Options{
		IPv6Enabled: c.Network.IPv6,
		UDPEnabled:  c.Network.UDP,
		Proxy: engine.ProxyOptions{
			Type: proxy,
			Host: c.Network.Proxy.Host,
			Port: c.Network.Proxy.Port,
		},
		SavePassphrase:   c.Profile.Passphrase,
		Bootstrap:        nodes,
		ShuffleBootstrap: c.Network.ShuffleBootstrap,
		ProfilePath:      c.Profile.Path,
		File: file.Options{
			ChunksPerTick:   c.Transfers.ChunksPerTick,
			MaxSendRateKBps: c.Transfers.MaxSendRateKBps,
		},
		AV: av.Options{
			Settings:     c.Audio.CodecSettings(),
			OutputDevice: c.Audio.OutputDevice,
			InputGain:    gain,
		},
	}, nil
}
