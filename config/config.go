package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/models"
)

// UnconfirmedPolicy decides the outcome of a submitted order whose
// confirmation page could not be recognised.
type UnconfirmedPolicy string

const (
	UnconfirmedSucceed UnconfirmedPolicy = "succeed"
	UnconfirmedFail    UnconfirmedPolicy = "fail"
)

type Config struct {
	Port     string
	AppEnv   string
	LogLevel string
	Version  string

	Mode        models.Mode
	ConfirmProd bool
	ProductName string

	TimestampTolerance   time.Duration
	ApprovalTimeout      time.Duration
	ApprovalPollInterval time.Duration
	ApprovalRetention    time.Duration
	DedupRetention       time.Duration
	RunRetention         time.Duration
	SweepInterval        time.Duration

	WebhookRateLimit   int
	WebhookRateWindow  time.Duration
	ApprovalRateLimit  int
	ApprovalRateWindow time.Duration

	CollaboratorTimeout time.Duration
	NavigationTimeout   time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	UnconfirmedPolicy   UnconfirmedPolicy

	BrowserWorkerURL string
	PublicBaseURL    string

	SecretsBackend string
	SecretsPrefix  string
	DedupBackend   string
	RedisAddr      string
	RedisPassword  string

	NotifySNSTopicARN   string
	CloudWatchEnabled   bool
	CloudWatchNamespace string
}

// LoadConfig reads configuration from .env files (when present) and the
// environment.
func LoadConfig() (*Config, error) {
	// Missing files are fine; the environment wins over both.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Version:  getEnv("APP_VERSION", "dev"),

		ConfirmProd: os.Getenv("CONFIRM_PROD") == "YES",
		ProductName: getEnv("PRODUCT_NAME", "Fortaleza"),

		TimestampTolerance:   p.duration("WEBHOOK_TIMESTAMP_TOLERANCE", 300*time.Second),
		ApprovalTimeout:      p.duration("APPROVAL_TIMEOUT", 10*time.Minute),
		ApprovalPollInterval: p.duration("APPROVAL_POLL_INTERVAL", 2*time.Second),
		ApprovalRetention:    p.duration("APPROVAL_RETENTION", 24*time.Hour),
		DedupRetention:       p.duration("DEDUP_RETENTION", 24*time.Hour),
		RunRetention:         p.duration("RUN_RETENTION", time.Hour),
		SweepInterval:        p.duration("SWEEP_INTERVAL", 5*time.Minute),

		WebhookRateLimit:   p.integer("WEBHOOK_RATE_LIMIT", 30),
		WebhookRateWindow:  p.duration("WEBHOOK_RATE_WINDOW", time.Minute),
		ApprovalRateLimit:  p.integer("APPROVAL_RATE_LIMIT", 10),
		ApprovalRateWindow: p.duration("APPROVAL_RATE_WINDOW", time.Minute),

		CollaboratorTimeout: p.duration("COLLABORATOR_TIMEOUT", 30*time.Second),
		NavigationTimeout:   p.duration("NAVIGATION_TIMEOUT", 30*time.Second),
		RetryAttempts:       p.integer("RETRY_ATTEMPTS", 3),
		RetryDelay:          p.duration("RETRY_DELAY", 2*time.Second),
		UnconfirmedPolicy:   UnconfirmedPolicy(strings.ToLower(getEnv("UNCONFIRMED_POLICY", string(UnconfirmedSucceed)))),

		BrowserWorkerURL: getEnv("BROWSER_WORKER_URL", "http://localhost:3000"),
		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		SecretsBackend: strings.ToLower(getEnv("SECRETS_BACKEND", "env")),
		SecretsPrefix:  os.Getenv("SECRETS_PREFIX"),
		DedupBackend:   strings.ToLower(getEnv("DEDUP_BACKEND", "memory")),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),

		NotifySNSTopicARN:   os.Getenv("NOTIFY_SNS_TOPIC_ARN"),
		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "FortalezaAgent"),
	}

	mode, err := models.ParseMode(getEnv("MODE", string(models.ModeDryRun)))
	if err != nil {
		p.errs = append(p.errs, err)
	}
	cfg.Mode = mode

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints, including the production guard.
func (c *Config) Validate() error {
	var errs []error
	if c.Mode == models.ModeProd && !c.ConfirmProd {
		errs = append(errs, fmt.Errorf("MODE=prod requires CONFIRM_PROD=YES"))
	}
	if c.TimestampTolerance <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_TIMESTAMP_TOLERANCE must be positive"))
	}
	if c.ApprovalTimeout <= 0 || c.ApprovalPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("approval timeout and poll interval must be positive"))
	}
	if c.WebhookRateLimit <= 0 || c.ApprovalRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("rate limits must be positive"))
	}
	if c.WebhookRateWindow <= 0 || c.ApprovalRateWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate windows must be positive"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must be at least 1"))
	}
	switch c.UnconfirmedPolicy {
	case UnconfirmedSucceed, UnconfirmedFail:
	default:
		errs = append(errs, fmt.Errorf("UNCONFIRMED_POLICY must be succeed or fail, got %q", c.UnconfirmedPolicy))
	}
	switch c.SecretsBackend {
	case "env", "aws":
	default:
		errs = append(errs, fmt.Errorf("SECRETS_BACKEND must be env or aws, got %q", c.SecretsBackend))
	}
	switch c.DedupBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("DEDUP_BACKEND must be memory or redis, got %q", c.DedupBackend))
	}
	return errors.Join(errs...)
}

// String renders the config for startup logs with secrets redacted.
func (c *Config) String() string {
	redis := ""
	if c.RedisPassword != "" {
		redis = "[REDACTED]"
	}
	return fmt.Sprintf(
		"port=%s env=%s mode=%s tolerance=%s approval_timeout=%s poll=%s worker=%s public=%s secrets=%s dedup=%s redis=%s redis_password=%s sns=%t cloudwatch=%t",
		c.Port, c.AppEnv, c.Mode, c.TimestampTolerance, c.ApprovalTimeout, c.ApprovalPollInterval,
		c.BrowserWorkerURL, c.PublicBaseURL, c.SecretsBackend, c.DedupBackend, c.RedisAddr, redis,
		c.NotifySNSTopicARN != "", c.CloudWatchEnabled,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// parser collects conversion errors so LoadConfig reports them together.
type parser struct {
	errs []error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		// Plain integers are seconds.
		if n, nerr := strconv.Atoi(val); nerr == nil {
			return time.Duration(n) * time.Second
		}
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, val, err))
		return fallback
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, val, err))
		return fallback
	}
	return n
}
