package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields that have a sensible default,
// mirroring the zero-means-default convention used throughout the ingest
// package's own constructors (NewPipeline, NewTextCoalescer, NewWorkerPool,
// NewTicketStore).
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.TargetSampleRate == 0 {
		cfg.Audio.TargetSampleRate = 16000
	}
	if cfg.Audio.BufferFrames == 0 {
		cfg.Audio.BufferFrames = 100
	}
	if cfg.Coalescer.WordThreshold == 0 {
		cfg.Coalescer.WordThreshold = 100
	}
	if cfg.Coalescer.WindowSeconds == 0 {
		cfg.Coalescer.WindowSeconds = 60
	}
	if cfg.AIPool.Workers == 0 {
		cfg.AIPool.Workers = 4
	}
	if cfg.AIPool.QueueCapacity == 0 {
		cfg.AIPool.QueueCapacity = 5
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if cfg.Audio.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate %d must be positive", cfg.Audio.TargetSampleRate))
	}
	if cfg.Audio.RecordingsDir == "" {
		errs = append(errs, errors.New("audio.recordings_dir is required"))
	}
	if cfg.Audio.BufferFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_frames %d must be positive", cfg.Audio.BufferFrames))
	}

	if cfg.Coalescer.WordThreshold <= 0 {
		errs = append(errs, fmt.Errorf("coalescer.word_threshold %d must be positive", cfg.Coalescer.WordThreshold))
	}
	if cfg.Coalescer.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("coalescer.window_seconds %d must be positive", cfg.Coalescer.WindowSeconds))
	}

	if !cfg.Transcriber.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("transcriber.backend %q is invalid; valid values: local, cloud", cfg.Transcriber.Backend))
	}
	switch cfg.Transcriber.Backend {
	case TranscriberLocal:
		if cfg.Transcriber.Local.ModelPath == "" {
			errs = append(errs, errors.New("transcriber.local.model_path is required when transcriber.backend is local"))
		}
	case TranscriberCloud:
		if cfg.Transcriber.Cloud.APIKey == "" {
			errs = append(errs, errors.New("transcriber.cloud.api_key is required when transcriber.backend is cloud"))
		}
		if cfg.Transcriber.Cloud.Endpoint == "" {
			errs = append(errs, errors.New("transcriber.cloud.endpoint is required when transcriber.backend is cloud"))
		}
	}

	if cfg.AIPool.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ai_pool.workers %d must be positive", cfg.AIPool.Workers))
	}
	if cfg.AIPool.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("ai_pool.queue_capacity %d must be positive", cfg.AIPool.QueueCapacity))
	}

	if cfg.OIDC.Authority == "" {
		errs = append(errs, errors.New("oidc.authority is required"))
	}
	if cfg.OIDC.ClientID == "" {
		errs = append(errs, errors.New("oidc.client_id is required"))
	}

	return errors.Join(errs...)
}
