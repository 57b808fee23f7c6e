package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Missing API keys are not errors here; providers without credentials are
// skipped when the service starts.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAuth(cfg, ve)
	validateLogger(cfg, ve)
	validateLLM(cfg, ve)
	validateSessions(cfg, ve)
	validateStorage(cfg, ve)
	validateRequestLogs(cfg, ve)
	validateScheduler(cfg, ve)
	validateAgents(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Port <= 0 || s.Port > 65535 {
		ve.Add("server.port %d is out of range", s.Port)
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		ve.Add("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if s.RateLimit.Enabled && (s.RateLimit.RequestsPerSecond <= 0 || s.RateLimit.Burst <= 0) {
		ve.Add("server.rate_limit requires requests_per_second > 0 and burst > 0 when enabled")
	}
}

func validateAuth(cfg *Config, ve *ValidationError) {
	switch cfg.Auth.Type {
	case "", "none":
	case "static":
		if len(cfg.Auth.Tokens) == 0 {
			ve.Add("auth.tokens must not be empty when auth.type is static")
		}
		for i, t := range cfg.Auth.Tokens {
			if t.Token == "" {
				ve.Add("auth.tokens[%d].token must not be empty", i)
			}
		}
	case "jwt":
		if len(cfg.Auth.JWTSecret) < 32 {
			ve.Add("auth.jwt_secret must be at least 32 bytes (set via CYPHR_JWT_SECRET)")
		}
	default:
		ve.Add("auth.type %q is invalid (want: none, static, jwt)", cfg.Auth.Type)
	}
}

var validLogFormats = map[string]bool{"json": true, "text": true, "pretty": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: json, text, pretty)", cfg.Logger.Format)
	}
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
}

var validProviderTypes = map[string]bool{
	"anthropic":  true,
	"openai":     true,
	"gemini":     true,
	"bedrock":    true,
	"ollama":     true,
	"openrouter": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
	if cfg.LLM.Timeout <= 0 {
		ve.Add("llm.timeout must be > 0")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: anthropic, openai, gemini, bedrock, ollama, openrouter)", i, p.Type)
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	for prefix, name := range cfg.LLM.ModelRoutes {
		if !seen[name] {
			ve.Add("llm.model_routes[%q] names unknown provider %q", prefix, name)
		}
	}
	if cfg.LLM.Failover.Enabled {
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks names unknown provider %q", name)
			}
		}
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.MaxHistory <= 0 {
		ve.Add("sessions.max_history must be > 0")
	}
	if cfg.Sessions.TTL <= 0 {
		ve.Add("sessions.ttl must be > 0")
	}
	switch cfg.Sessions.Transcripts {
	case "", "none", "sqlite":
	case "redis":
		if cfg.Storage.RedisURL == "" {
			ve.Add("storage.redis_url is required when sessions.transcripts is redis")
		}
	default:
		ve.Add("sessions.transcripts %q is invalid (want: none, sqlite, redis)", cfg.Sessions.Transcripts)
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.DBPath == "" {
		ve.Add("storage.db_path must not be empty")
	}
}

func validateRequestLogs(cfg *Config, ve *ValidationError) {
	if cfg.RequestLogs.RetentionDays < 0 {
		ve.Add("request_logs.retention_days must be >= 0")
	}
	if cfg.RequestLogs.PromptLogLimit < 0 {
		ve.Add("request_logs.prompt_log_limit must be >= 0")
	}
}

var validActions = map[string]bool{
	"session_sweep": true,
	"log_retention": true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	names := make(map[string]bool)
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		} else if names[t.Name] {
			ve.Add("scheduler.tasks[%d]: duplicate task name %q", i, t.Name)
		}
		names[t.Name] = true
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: session_sweep, log_retention)", i, t.Action)
		}
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		if err := a.Normalize(cfg.LLM.DefaultModel).Validate(); err != nil {
			ve.Add("agents[%d]: %v", i, err)
			continue
		}
		path := strings.TrimSpace(a.EndpointPath)
		if seen[path] {
			ve.Add("agents[%d]: duplicate endpoint_path %q", i, path)
		}
		seen[path] = true
	}
}
