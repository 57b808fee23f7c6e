package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// Config is the root service configuration.
type Config struct {
	Includes    []string                 `yaml:"includes,omitempty"`
	Server      ServerConfig             `yaml:"server"`
	Auth        AuthConfig               `yaml:"auth"`
	Logger      LoggerConfig             `yaml:"logger"`
	Tracer      TracerConfig             `yaml:"tracer"`
	LLM         LLMConfig                `yaml:"llm"`
	Routing     RoutingConfig            `yaml:"routing"`
	Sessions    SessionsConfig           `yaml:"sessions"`
	Storage     StorageConfig            `yaml:"storage"`
	RequestLogs RequestLogsConfig        `yaml:"request_logs"`
	Scheduler   SchedulerConfig          `yaml:"scheduler"`
	Agents      []domain.AgentDescriptor `yaml:"agents"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	Debug           bool            `yaml:"debug"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes"`
	TLSCertFile     string          `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile      string          `yaml:"tls_key_file,omitempty"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	// TrustedProxies are peers whose X-Forwarded-For header is honoured
	// when resolving the client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// RateLimitConfig holds per-client request rate limits.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig holds admin API authentication settings.
type AuthConfig struct {
	Type      string        `yaml:"type"` // "none", "static" or "jwt"
	Tokens    []TokenConfig `yaml:"tokens,omitempty"`
	JWTSecret string        `yaml:"jwt_secret,omitempty"`
	JWTIssuer string        `yaml:"jwt_issuer,omitempty"`
}

// TokenConfig holds a single static bearer token.
type TokenConfig struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json", "text" or "pretty"
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	DefaultModel    string               `yaml:"default_model"`
	MaxTokens       int                  `yaml:"max_tokens"`
	Timeout         time.Duration        `yaml:"timeout"`
	Providers       []ProviderConfig     `yaml:"providers"`
	ModelRoutes     map[string]string    `yaml:"model_routes,omitempty"` // model prefix -> provider name
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FailoverConfig lists providers tried after the selected one fails.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// RoutingConfig tunes the request router.
type RoutingConfig struct {
	Aliases         map[string]string `yaml:"aliases"`
	GeneralAgentIDs []string          `yaml:"general_agent_ids"`
}

// SessionsConfig holds conversation session settings.
type SessionsConfig struct {
	MaxHistory  int           `yaml:"max_history"`
	TTL         time.Duration `yaml:"ttl"`
	Transcripts string        `yaml:"transcripts"` // "none", "sqlite" or "redis"
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath         string `yaml:"db_path"`
	RedisURL       string `yaml:"redis_url,omitempty"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// RequestLogsConfig holds request logging settings.
type RequestLogsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	RetentionDays  int    `yaml:"retention_days"`
	PromptLogLimit int    `yaml:"prompt_log_limit"`
	TokenEncoding  string `yaml:"token_encoding"`
}

// SchedulerConfig holds cron/scheduler settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// defaultDataDir returns the persistent data directory under $HOME/.cyphr.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".cyphr")
}

// DefaultModel is assigned to agents that do not name a model.
const DefaultModel = "claude-3-5-sonnet-latest"

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    180 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS:            CORSConfig{AllowedOrigins: []string{"*"}},
			RateLimit:       RateLimitConfig{Enabled: true, RequestsPerSecond: 10, Burst: 20},
		},
		Auth: AuthConfig{Type: "none"},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{Exporter: "noop"},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    DefaultModel,
			MaxTokens:       4096,
			Timeout:         120 * time.Second,
			Providers: []ProviderConfig{
				{Name: "anthropic", Type: "anthropic", Model: DefaultModel},
				{Name: "openai", Type: "openai", Model: "gpt-4o-mini"},
				{Name: "gemini", Type: "gemini", Model: "gemini-2.0-flash"},
			},
			ModelRoutes: map[string]string{
				"claude": "anthropic",
				"gpt":    "openai",
				"o1":     "openai",
				"o3":     "openai",
				"gemini": "gemini",
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Routing: RoutingConfig{
			Aliases: map[string]string{
				"analyze":   "/analytics",
				"summarize": "/summarization",
			},
			GeneralAgentIDs: []string{"general", "general-agent"},
		},
		Sessions: SessionsConfig{
			MaxHistory:  10,
			TTL:         24 * time.Hour,
			Transcripts: "none",
		},
		Storage: StorageConfig{
			DBPath:         filepath.Join(defaultDataDir(), "cyphr.db"),
			RedisKeyPrefix: "cyphr:",
		},
		RequestLogs: RequestLogsConfig{
			Enabled:        true,
			RetentionDays:  30,
			PromptLogLimit: 4000,
			TokenEncoding:  "cl100k_base",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Tasks: []ScheduledTaskConfig{
				{Name: "session-sweep", Schedule: "5m", Action: "session_sweep"},
				{Name: "log-retention", Schedule: "@daily", Action: "log_retention"},
			},
		},
		Agents: DefaultAgents(),
	}
}

// DefaultAgents returns the agents seeded into an empty store.
func DefaultAgents() []domain.AgentDescriptor {
	return []domain.AgentDescriptor{
		{
			EndpointPath: "/analytics",
			AgentID:      "analytics-agent",
			DisplayName:  "Analytics",
			Description:  "Analyze dashboard data to identify trends, patterns, and insights",
			Instructions: "Analyze data and provide comprehensive insights with bullet points.",
			Indicators:   []string{"trend", "analysis", "correlation", "insight", "detail", "breakdown"},
			Priority:     10,
			Temperature:  0.5,
		},
		{
			EndpointPath: "/summarization",
			AgentID:      "summary-agent",
			DisplayName:  "Summarization",
			Description:  "Provide concise summaries of dashboard data",
			Instructions: "Create a concise summary of the provided data, highlighting key points.",
			Indicators:   []string{"summary", "overview", "report", "brief"},
			Priority:     20,
			Temperature:  0.3,
		},
		{
			EndpointPath: "/general",
			AgentID:      "general-agent",
			DisplayName:  "General Questions",
			Description:  "Answer specific questions about dashboard data",
			Instructions: "Respond helpfully to user queries about the data.",
			Priority:     30,
			Temperature:  0.7,
		},
		{
			EndpointPath: "/store-perf",
			AgentID:      "store-performance",
			DisplayName:  "Store Performance Analysis",
			Description:  "Analysis for store performance related matters",
			Instructions: "Analyze the provided insurance agency store's Profit and Loss (P&L) statement and performance data. " +
				"Provide 5 high-level, actionable insights to improve profitability. " +
				"Each insight should include a clear, concise recommendation for immediate implementation.",
			Indicators:  []string{"store", "p&l", "performance"},
			Priority:    40,
			Temperature: 0.7,
		},
	}
}

// LoadDotEnv loads variables from a .env file without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file, applies env var overrides, decrypts
// secrets and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
		data = nil
	}

	if data != nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		routes := cfg.LLM.ModelRoutes
		cfg.LLM.ModelRoutes = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "parse config: "+err.Error())
		}
		if cfg.LLM.ModelRoutes == nil {
			cfg.LLM.ModelRoutes = knownRoutes(routes, cfg.LLM.Providers)
		}
		if len(cfg.Includes) > 0 {
			visited := map[string]bool{absPath: true}
			if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
				return nil, err
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CYPHR_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// knownRoutes keeps the default model routes whose provider is configured.
func knownRoutes(routes map[string]string, providers []ProviderConfig) map[string]string {
	out := make(map[string]string, len(routes))
	for prefix, name := range routes {
		for _, p := range providers {
			if p.Name == name {
				out[prefix] = name
				break
			}
		}
	}
	return out
}

// providerKeyEnv maps provider types to the conventional API key variables.
var providerKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// ApplyEnvOverrides maps CYPHR_* and provider key env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CYPHR_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CYPHR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CYPHR_DEBUG"); v != "" {
		cfg.Server.Debug = strings.EqualFold(v, "true")
		if cfg.Server.Debug {
			cfg.Logger.Level = "debug"
		}
	}
	if v := os.Getenv("CYPHR_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CYPHR_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CYPHR_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CYPHR_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CYPHR_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CYPHR_REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("CYPHR_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("CYPHR_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := os.Getenv("CYPHR_ADMIN_TOKENS"); v != "" {
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Auth.Tokens = append(cfg.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  fmt.Sprintf("env-%d", i),
				Roles: []string{"admin"},
			})
		}
	}
	if v := os.Getenv("CYPHR_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("CYPHR_LLM_DEFAULT_MODEL"); v != "" {
		cfg.LLM.DefaultModel = v
	}
	if v := os.Getenv("CYPHR_SESSION_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sessions.MaxHistory = n
		}
	}
	if v := os.Getenv("CYPHR_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.TTL = d
		}
	}

	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		// Per-provider override wins over the conventional variable.
		if v := os.Getenv("CYPHR_LLM_PROVIDER_" + envName(p.Name) + "_API_KEY"); v != "" {
			p.APIKey = v
			continue
		}
		if p.APIKey != "" {
			continue
		}
		if name, ok := providerKeyEnv[p.Type]; ok {
			p.APIKey = os.Getenv(name)
		}
	}
}

func envName(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(s))
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Provider returns the provider config with the given name.
func (c *LLMConfig) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
