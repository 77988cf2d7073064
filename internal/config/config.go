package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"orderdesk/internal"
)

type Config struct {
	DBDriver      string
	DBPath        string
	DatabaseURL   string
	RawMessageDir string
	OutputDir     string

	DefaultTenantID string
	LogLevel        string
	LogEncoding     string

	Pricing     PricingConfig
	Negotiation NegotiationConfig

	MatchMaxCandidates int

	ClassifierURL                 string
	ClassifierAPIKey              string
	ClassifierAPIKeySecret        string
	ClassifierConfidenceThreshold float64
	ClassifierTimeoutMs           int
	ClassifierQuotaPerMinute      int

	CatalogAPIBaseURL   string
	CatalogAPIToken     string
	CatalogRateLimitRPS int
	CatalogTimeoutMs    int

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	ListenerProvider     string
	ListenerLabel        string
	ListenerIntervalSec  int
	ListenerFetchMax     int
	ListenerProcessBatch int
	ListenerParallel     int
}

type PricingConfig struct {
	Slabs             []internal.VolumeDiscountSlab
	VIPBonus          decimal.Decimal
	HardCeiling       decimal.Decimal
	HistoryStaleAfter time.Duration
	TaxRatePercent    decimal.Decimal
}

type NegotiationConfig struct {
	Step     decimal.Decimal
	MaxTurns int
	TTL      time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBDriver:      getEnv("DB_DRIVER", "sqlite"),
		DBPath:        getEnv("DB_PATH", filepath.Join(cwd, "data", "orderdesk.db")),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RawMessageDir: getEnv("RAW_MESSAGE_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:     getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		DefaultTenantID: getEnv("DEFAULT_TENANT_ID", "default"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogEncoding:     getEnv("LOG_ENCODING", "console"),

		Pricing: PricingConfig{
			VIPBonus:          getEnvDecimal("PRICING_VIP_BONUS", decimal.RequireFromString("1.5")),
			HardCeiling:       getEnvDecimal("PRICING_HARD_CEILING", decimal.NewFromInt(12)),
			HistoryStaleAfter: time.Duration(getEnvInt("PRICING_HISTORY_STALE_DAYS", 90)) * 24 * time.Hour,
			TaxRatePercent:    getEnvDecimal("TAX_RATE_PERCENT", decimal.Zero),
		},
		Negotiation: NegotiationConfig{
			Step:     getEnvDecimal("NEGOTIATION_STEP", decimal.RequireFromString("0.5")),
			MaxTurns: getEnvInt("NEGOTIATION_MAX_TURNS", 3),
			TTL:      getEnvDuration("NEGOTIATION_TTL", 30*time.Minute),
		},

		MatchMaxCandidates: getEnvInt("MATCH_MAX_CANDIDATES", 5),

		ClassifierURL:                 getEnv("CLASSIFIER_URL", ""),
		ClassifierAPIKey:              getEnv("CLASSIFIER_API_KEY", ""),
		ClassifierAPIKeySecret:        getEnv("CLASSIFIER_API_KEY_SECRET", ""),
		ClassifierConfidenceThreshold: getEnvFloat("CLASSIFIER_CONFIDENCE_THRESHOLD", 0.75),
		ClassifierTimeoutMs:           getEnvInt("CLASSIFIER_TIMEOUT_MS", 5000),
		ClassifierQuotaPerMinute:      getEnvInt("CLASSIFIER_QUOTA_PER_MINUTE", 60),

		CatalogAPIBaseURL:   getEnv("CATALOG_API_BASE_URL", ""),
		CatalogAPIToken:     getEnv("CATALOG_API_TOKEN", ""),
		CatalogRateLimitRPS: getEnvInt("CATALOG_RATE_LIMIT_RPS", 5),
		CatalogTimeoutMs:    getEnvInt("CATALOG_TIMEOUT_MS", 30000),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		ListenerProvider:     getEnv("LISTENER_PROVIDER", "imap"),
		ListenerLabel:        getEnv("LISTENER_LABEL", "INBOX"),
		ListenerIntervalSec:  getEnvInt("LISTENER_INTERVAL_SEC", 30),
		ListenerFetchMax:     getEnvInt("LISTENER_FETCH_MAX", 20),
		ListenerProcessBatch: getEnvInt("LISTENER_PROCESS_BATCH", 50),
		ListenerParallel:     getEnvInt("LISTENER_PARALLEL", 4),
	}

	slabs := DefaultSlabs()
	if path := strings.TrimSpace(getEnv("PRICING_SLABS_FILE", "")); path != "" {
		slabs, err = LoadSlabsFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.Pricing.Slabs = slabs

	if err := cfg.Pricing.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid pricing config: %w", err)
	}
	if cfg.Negotiation.MaxTurns < 0 {
		return Config{}, fmt.Errorf("NEGOTIATION_MAX_TURNS must be >= 0")
	}
	if !cfg.Negotiation.Step.IsPositive() {
		return Config{}, fmt.Errorf("NEGOTIATION_STEP must be positive")
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// DataSource returns the driver name and DSN for the storage layer.
func (c Config) DataSource() (string, string) {
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "pgx", "postgres", "postgresql":
		return "pgx", c.DatabaseURL
	default:
		return "sqlite", c.DBPath
	}
}

// DefaultSlabs partitions [0, inf) into four volume bands.
func DefaultSlabs() []internal.VolumeDiscountSlab {
	return []internal.VolumeDiscountSlab{
		{MinQty: 0, MaxQty: intPtr(9), MinDiscount: decimal.Zero, MaxDiscount: decimal.Zero, TierLabel: "standard"},
		{MinQty: 10, MaxQty: intPtr(50), MinDiscount: decimal.NewFromInt(3), MaxDiscount: decimal.NewFromInt(6), TierLabel: "bulk"},
		{MinQty: 51, MaxQty: intPtr(199), MinDiscount: decimal.NewFromInt(6), MaxDiscount: decimal.NewFromInt(8), TierLabel: "wholesale"},
		{MinQty: 200, MaxQty: nil, MinDiscount: decimal.NewFromInt(8), MaxDiscount: decimal.NewFromInt(10), TierLabel: "distributor"},
	}
}

// LoadSlabsFile reads a JSON array of slabs.
func LoadSlabsFile(path string) ([]internal.VolumeDiscountSlab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slabs file: %w", err)
	}
	var slabs []internal.VolumeDiscountSlab
	if err := json.Unmarshal(data, &slabs); err != nil {
		return nil, fmt.Errorf("failed to parse slabs file: %w", err)
	}
	return slabs, nil
}

// Validate checks that the slabs partition [0, inf) without gaps or overlaps
// and that no configured discount can exceed the hard ceiling.
func (p PricingConfig) Validate() error {
	if len(p.Slabs) == 0 {
		return fmt.Errorf("at least one slab is required")
	}
	if !p.HardCeiling.IsPositive() {
		return fmt.Errorf("hard ceiling must be positive")
	}
	if p.VIPBonus.IsNegative() {
		return fmt.Errorf("vip bonus must not be negative")
	}
	next := 0
	for i, s := range p.Slabs {
		if s.MinQty != next {
			return fmt.Errorf("slab %d starts at %d, expected %d", i, s.MinQty, next)
		}
		if s.MinDiscount.IsNegative() {
			return fmt.Errorf("slab %d has negative discount", i)
		}
		if s.MinDiscount.GreaterThan(s.MaxDiscount) {
			return fmt.Errorf("slab %d minDiscount > maxDiscount", i)
		}
		if s.MaxDiscount.GreaterThan(p.HardCeiling) {
			return fmt.Errorf("slab %d maxDiscount %s exceeds hard ceiling %s", i, s.MaxDiscount, p.HardCeiling)
		}
		if s.MaxQty == nil {
			if i != len(p.Slabs)-1 {
				return fmt.Errorf("slab %d is unbounded but not last", i)
			}
			return nil
		}
		if *s.MaxQty < s.MinQty {
			return fmt.Errorf("slab %d maxQty < minQty", i)
		}
		next = *s.MaxQty + 1
	}
	return fmt.Errorf("last slab must be unbounded")
}

func intPtr(v int) *int { return &v }

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
