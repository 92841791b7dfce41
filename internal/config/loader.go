package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [applyDefaults] to fields left unset: the stock
// telephony profile of 48 kHz media audio in 10 ms frames against a peer
// that listens at 16 kHz and speaks at 48 kHz.
const (
	DefaultListenAddr       = ":8080"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultSampleRate       = 48000
	DefaultFrameSamples     = 480
	DefaultChannels         = 1
	DefaultPeerInputRate    = 16000
	DefaultPeerOutputRate   = 48000
	DefaultChunkBytes       = 3200
	DefaultMaxBufferedSamps = 480000
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with the stock profile.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Media.SampleRate == 0 {
		cfg.Media.SampleRate = DefaultSampleRate
	}
	if cfg.Media.FrameSamples == 0 {
		cfg.Media.FrameSamples = DefaultFrameSamples
	}
	if cfg.Media.Channels == 0 {
		cfg.Media.Channels = DefaultChannels
	}
	if cfg.Peer.InputSampleRate == 0 {
		cfg.Peer.InputSampleRate = DefaultPeerInputRate
	}
	if cfg.Peer.OutputSampleRate == 0 {
		cfg.Peer.OutputSampleRate = DefaultPeerOutputRate
	}
	if cfg.Bridge.ChunkBytes == 0 {
		cfg.Bridge.ChunkBytes = DefaultChunkBytes
	}
	if cfg.Bridge.MaxBufferedSamples == 0 {
		cfg.Bridge.MaxBufferedSamples = DefaultMaxBufferedSamps
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", cfg.Server.ShutdownTimeout))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Media format
	if cfg.Media.Channels < 1 {
		errs = append(errs, fmt.Errorf("media.channels must be at least 1, got %d", cfg.Media.Channels))
	}
	if cfg.Media.Channels > 1 {
		slog.Warn("media.channels > 1: channels beyond the first are discarded, not mixed",
			"channels", cfg.Media.Channels)
	}

	// Peer
	if cfg.Peer.APIKey == "" {
		slog.Warn("peer.api_key is empty; the peer connection will fail unless the endpoint is unauthenticated")
	}
	if cfg.Peer.URL != "" && !strings.HasPrefix(cfg.Peer.URL, "ws://") && !strings.HasPrefix(cfg.Peer.URL, "wss://") {
		errs = append(errs, fmt.Errorf("peer.url %q must be a ws:// or wss:// URL", cfg.Peer.URL))
	}

	// Rates and sizes: delegate to the bridge's own validation so a
	// non-integer rate ratio fails here, at load time, with the same error a
	// session would produce.
	if err := cfg.BridgeConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Control
	if cfg.Control.BaseURL == "" {
		slog.Warn("control.base_url is empty; incoming call webhooks will be acknowledged but not answered")
	} else if cfg.Control.MediaURL == "" {
		errs = append(errs, errors.New("control.media_url is required when control.base_url is set"))
	}

	// Optional backends
	if cfg.CDR.PostgresDSN == "" {
		slog.Warn("cdr.postgres_dsn is empty; call records will not be stored")
	}
	if cfg.Events.NATSURL == "" {
		slog.Warn("events.nats_url is empty; call lifecycle events will not be published")
	}

	// Sessions
	if cfg.Sessions.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_concurrent must not be negative, got %d", cfg.Sessions.MaxConcurrent))
	}

	return errors.Join(errs...)
}
