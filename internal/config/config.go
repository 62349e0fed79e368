package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the AdminPilot control plane.
type Config struct {
	Port         int
	Version      string
	Database     DatabaseConfig
	Telemetry    TelemetryConfig
	Auth         AuthConfig
	LLM          LLMConfig
	Agent        AgentConfig
	RateLimit    RateLimitConfig
	Integrations IntegrationsConfig
}

type DatabaseConfig struct {
	// URL selects the PostgreSQL driver. Empty means the in-memory store.
	URL            string
	MaxConnections int
	// DataDir is where the in-memory store writes its JSON snapshot.
	DataDir        string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// APIKeys is a comma-separated list of "key" or "key=role" entries.
	APIKeys    string
	APIKeyRole string
	JWTSecret  string
	JWTIssuer  string
	AdminRole  string
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type AgentConfig struct {
	HistoryWindow    int
	ToolTimeout      time.Duration
	MaxParallelTools int
	// DestructiveMode is "confirm" (two-phase) or "immediate".
	DestructiveMode  string
	PendingTTL       time.Duration
	// PendingSweep is how often expired pending actions are purged.
	PendingSweep     time.Duration
	ContextTimeout   time.Duration
	ContextRecent    int
	PromptsFile      string
	DedupeWindow     time.Duration
	MaxMessageLength int
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type IntegrationsConfig struct {
	Timeout time.Duration

	EmailAPIKey string
	EmailAPIURL string
	EmailFrom   string

	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppAPIURL        string

	WebhookSigningSecret string

	ExportEndpoint  string
	ExportAccessKey string
	ExportSecretKey string
	ExportBucket    string
	ExportRegion    string
	ExportUseSSL    bool
}

const (
	DestructiveConfirm   = "confirm"
	DestructiveImmediate = "immediate"
)

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("ADMINPILOT_PORT", 8080),
		Version: envStr("ADMINPILOT_VERSION", "0.1.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
			DataDir:        envStr("ADMINPILOT_DATA_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "adminpilot-control-plane"),
		},
		Auth: AuthConfig{
			APIKeys:    envStr("ADMINPILOT_API_KEYS", ""),
			APIKeyRole: envStr("ADMINPILOT_API_KEY_ROLE", "admin"),
			JWTSecret:  envStr("ADMINPILOT_JWT_SECRET", ""),
			JWTIssuer:  envStr("ADMINPILOT_JWT_ISSUER", "adminpilot"),
			AdminRole:  envStr("ADMINPILOT_ADMIN_ROLE", "admin"),
		},
		LLM: LLMConfig{
			APIKey:      envStr("LLM_API_KEY", ""),
			BaseURL:     envStr("LLM_BASE_URL", ""),
			Model:       envStr("LLM_MODEL", "gpt-4o-mini"),
			Temperature: float32(envFloat("LLM_TEMPERATURE", 0.3)),
			Timeout:     envDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Agent: AgentConfig{
			HistoryWindow:    envInt("AGENT_HISTORY_WINDOW", 10),
			ToolTimeout:      envDuration("AGENT_TOOL_TIMEOUT", 20*time.Second),
			MaxParallelTools: envInt("AGENT_MAX_PARALLEL_TOOLS", 4),
			DestructiveMode:  destructiveMode(envStr("AGENT_DESTRUCTIVE_MODE", DestructiveConfirm)),
			PendingTTL:       envDuration("AGENT_PENDING_TTL", 10*time.Minute),
			PendingSweep:     envDuration("AGENT_PENDING_SWEEP_INTERVAL", time.Minute),
			ContextTimeout:   envDuration("AGENT_CONTEXT_TIMEOUT", 3*time.Second),
			ContextRecent:    envInt("AGENT_CONTEXT_RECENT_LIMIT", 20),
			PromptsFile:      envStr("AGENT_PROMPTS_FILE", ""),
			DedupeWindow:     envDuration("AGENT_DEDUPE_WINDOW", 5*time.Second),
			MaxMessageLength: envInt("AGENT_MAX_MESSAGE_LENGTH", 8000),
		},
		RateLimit: RateLimitConfig{
			RPS:   envFloat("RATE_LIMIT_RPS", 1),
			Burst: envInt("RATE_LIMIT_BURST", 5),
		},
		Integrations: IntegrationsConfig{
			Timeout:               envDuration("INTEGRATION_TIMEOUT", 10*time.Second),
			EmailAPIKey:           envStr("EMAIL_API_KEY", ""),
			EmailAPIURL:           envStr("EMAIL_API_URL", "https://api.resend.com"),
			EmailFrom:             envStr("EMAIL_FROM", ""),
			WhatsAppToken:         envStr("WHATSAPP_TOKEN", ""),
			WhatsAppPhoneNumberID: envStr("WHATSAPP_PHONE_NUMBER_ID", ""),
			WhatsAppAPIURL:        envStr("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
			WebhookSigningSecret:  envStr("WEBHOOK_SIGNING_SECRET", ""),
			ExportEndpoint:        envStr("EXPORT_S3_ENDPOINT", ""),
			ExportAccessKey:       envStr("EXPORT_S3_ACCESS_KEY", ""),
			ExportSecretKey:       envStr("EXPORT_S3_SECRET_KEY", ""),
			ExportBucket:          envStr("EXPORT_S3_BUCKET", ""),
			ExportRegion:          envStr("EXPORT_S3_REGION", ""),
			ExportUseSSL:          envBool("EXPORT_S3_USE_SSL", true),
		},
	}
}

// destructiveMode falls back to confirm for anything it does not recognise.
func destructiveMode(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), DestructiveImmediate) {
		return DestructiveImmediate
	}
	return DestructiveConfirm
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
