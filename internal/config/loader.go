package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"deepgram"},
	"voice_agent":   {"elevenlabs"},
}

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
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcription", cfg.Providers.Transcription.Name)
	validateProviderName("voice_agent", cfg.Providers.VoiceAgent.Name)
	for _, fb := range cfg.Providers.Transcription.Fallbacks {
		validateProviderName("transcription", fb.Name)
		if fb.Name == "" {
			errs = append(errs, errors.New("providers.transcription.fallbacks entries require a name"))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.transcription fallback %q must not nest further fallbacks", fb.Name))
		}
	}

	// Provider availability warnings
	if cfg.Providers.Transcription.Name != "" && cfg.Providers.Transcription.APIKey == "" {
		slog.Warn("providers.transcription has no api_key; transcription requests will be rejected")
	}
	if cfg.Providers.VoiceAgent.Name != "" {
		if cfg.Providers.VoiceAgent.APIKey == "" {
			slog.Warn("providers.voice_agent has no api_key; interventions cannot start")
		}
		if cfg.Providers.VoiceAgent.AgentID == "" {
			errs = append(errs, errors.New("providers.voice_agent.agent_id is required when a voice agent provider is configured"))
		}
	}

	// Intervention tuning
	iv := cfg.Intervention
	if iv.Threshold < 0 {
		errs = append(errs, fmt.Errorf("intervention.threshold %d must not be negative", iv.Threshold))
	}
	if iv.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("intervention.window_size %d must not be negative", iv.WindowSize))
	}
	if iv.WindowSize > 0 && iv.Threshold > iv.WindowSize {
		errs = append(errs, fmt.Errorf("intervention.threshold %d exceeds window_size %d and can never be reached", iv.Threshold, iv.WindowSize))
	}
	if iv.TriggerDelay < 0 {
		errs = append(errs, errors.New("intervention.trigger_delay must not be negative"))
	}
	if iv.Cooldown < 0 {
		errs = append(errs, errors.New("intervention.cooldown must not be negative"))
	}
	if iv.StartTimeout < 0 {
		errs = append(errs, errors.New("intervention.start_timeout must not be negative"))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; transcripts and intervention records will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
