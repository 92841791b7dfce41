package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pontoonlabs/pontoon/internal/bridge"
	"github.com/pontoonlabs/pontoon/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 30s
media:
  sample_rate: 48000
  frame_samples: 480
  channels: 1
peer:
  url: wss://peer.example/v1/realtime
  api_key: sk-test
  model: gpt-realtime
  voice: marin
  instructions: You are a polite receptionist.
  input_sample_rate: 16000
  output_sample_rate: 48000
bridge:
  chunk_bytes: 3200
  max_buffered_samples: 480000
control:
  base_url: https://api.provider.example/v1
  api_key: ctl-test
  media_url: wss://gw.example/media
cdr:
  postgres_dsn: "postgres://localhost/pontoon"
events:
  nats_url: "nats://localhost:4222"
sessions:
  max_concurrent: 8
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout: got %s, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Peer.Voice != "marin" {
		t.Errorf("peer.voice: got %q, want %q", cfg.Peer.Voice, "marin")
	}
	if cfg.Control.MediaURL != "wss://gw.example/media" {
		t.Errorf("control.media_url: got %q", cfg.Control.MediaURL)
	}
	if cfg.Sessions.MaxConcurrent != 8 {
		t.Errorf("sessions.max_concurrent: got %d, want 8", cfg.Sessions.MaxConcurrent)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr default: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.ShutdownTimeout != config.DefaultShutdownTimeout {
		t.Errorf("shutdown_timeout default: got %s, want %s", cfg.Server.ShutdownTimeout, config.DefaultShutdownTimeout)
	}
	if cfg.Media.SampleRate != config.DefaultSampleRate {
		t.Errorf("media.sample_rate default: got %d, want %d", cfg.Media.SampleRate, config.DefaultSampleRate)
	}
	if cfg.Media.FrameSamples != config.DefaultFrameSamples {
		t.Errorf("media.frame_samples default: got %d, want %d", cfg.Media.FrameSamples, config.DefaultFrameSamples)
	}
	if cfg.Peer.InputSampleRate != config.DefaultPeerInputRate {
		t.Errorf("peer.input_sample_rate default: got %d, want %d", cfg.Peer.InputSampleRate, config.DefaultPeerInputRate)
	}
	if cfg.Peer.OutputSampleRate != config.DefaultPeerOutputRate {
		t.Errorf("peer.output_sample_rate default: got %d, want %d", cfg.Peer.OutputSampleRate, config.DefaultPeerOutputRate)
	}
	if cfg.Bridge.ChunkBytes != config.DefaultChunkBytes {
		t.Errorf("bridge.chunk_bytes default: got %d, want %d", cfg.Bridge.ChunkBytes, config.DefaultChunkBytes)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_adr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_NonIntegerRateRatio(t *testing.T) {
	t.Parallel()
	yaml := `
media:
  sample_rate: 48000
peer:
  input_sample_rate: 44100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-integer rate ratio, got nil")
	}
	var rre *bridge.RateRatioError
	if !errors.As(err, &rre) {
		t.Fatalf("expected a *bridge.RateRatioError in the chain, got: %v", err)
	}
	if rre.Direction != bridge.DirectionCapture {
		t.Errorf("direction: got %q, want %q", rre.Direction, bridge.DirectionCapture)
	}
	if rre.PeerRate != 44100 {
		t.Errorf("peer rate: got %d, want 44100", rre.PeerRate)
	}
}

func TestValidate_OddChunkBytes(t *testing.T) {
	t.Parallel()
	yaml := `
bridge:
  chunk_bytes: 3201
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for odd chunk_bytes, got nil")
	}
	if !strings.Contains(err.Error(), "chunk_bytes") {
		t.Errorf("error should mention chunk_bytes, got: %v", err)
	}
}

func TestValidate_ControlRequiresMediaURL(t *testing.T) {
	t.Parallel()
	yaml := `
control:
  base_url: https://api.provider.example/v1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error when base_url is set without media_url, got nil")
	}
	if !strings.Contains(err.Error(), "media_url") {
		t.Errorf("error should mention media_url, got: %v", err)
	}
}

func TestValidate_PeerURLScheme(t *testing.T) {
	t.Parallel()
	yaml := `
peer:
  url: https://peer.example/v1/realtime
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket peer URL, got nil")
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
media:
  sample_rate: 48000
peer:
  input_sample_rate: 44100
sessions:
  max_concurrent: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "does not divide", "max_concurrent"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should contain %q, got: %v", want, err)
		}
	}
}

func TestBridgeConfig_Mapping(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bc := cfg.BridgeConfig()
	want := bridge.Config{
		NativeRate:         48000,
		CaptureRate:        16000,
		PlaybackRate:       48000,
		FrameSamples:       480,
		ChunkBytes:         3200,
		MaxBufferedSamples: 480000,
	}
	if bc != want {
		t.Errorf("bridge config: got %+v, want %+v", bc, want)
	}
	if err := bc.Validate(); err != nil {
		t.Errorf("mapped bridge config should validate, got: %v", err)
	}
}
