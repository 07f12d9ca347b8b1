package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/ips/section"
)

type Config struct {
	Port                          string        `mapstructure:"PORT"`
	Env                           string        `mapstructure:"ENV"`
	Timezone                      string        `mapstructure:"TIMEZONE"`
	OrgID                         string        `mapstructure:"ORG_ID"`
	OrgName                       string        `mapstructure:"ORG_NAME"`
	BaseURL                       string        `mapstructure:"BASE_URL"`
	SummaryCompositionSections    string        `mapstructure:"SUMMARY_COMPOSITION_SECTIONS"`
	SummaryIPSCompositionSections string        `mapstructure:"SUMMARY_IPS_COMPOSITION_SECTIONS"`
	AddressSimilarityThreshold    float64       `mapstructure:"ADDRESS_SIMILARITY_THRESHOLD"`
	ZoneCacheSize                 int           `mapstructure:"ZONE_CACHE_SIZE"`
	DatabaseURL                   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                    int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey                string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer                    string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience                  string        `mapstructure:"AUTH_AUDIENCE"`
	BodyLimit                     string        `mapstructure:"BODY_LIMIT"`
	BreakerFailureThreshold       uint32        `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerTimeout                time.Duration `mapstructure:"BREAKER_TIMEOUT"`
	RequestTimeout                time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS                  float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst                int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "TIMEZONE", "ORG_ID", "ORG_NAME", "BASE_URL",
	"SUMMARY_COMPOSITION_SECTIONS", "SUMMARY_IPS_COMPOSITION_SECTIONS",
	"ADDRESS_SIMILARITY_THRESHOLD", "ZONE_CACHE_SIZE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"BODY_LIMIT", "BREAKER_FAILURE_THRESHOLD", "BREAKER_TIMEOUT",
	"REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("ORG_ID", "ips-generator")
	v.SetDefault("ORG_NAME", "IPS Generator")
	v.SetDefault("SUMMARY_COMPOSITION_SECTIONS", "all")
	v.SetDefault("SUMMARY_IPS_COMPOSITION_SECTIONS", "all")
	v.SetDefault("ADDRESS_SIMILARITY_THRESHOLD", format.AddressSimilarityThreshold)
	v.SetDefault("ZONE_CACHE_SIZE", format.DefaultZoneCacheSize)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_TIMEOUT", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase reports whether a Postgres record source is configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// AuthEnabled reports whether bearer tokens are required on /fhir routes.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// RateLimitEnabled reports whether /fhir requests are rate limited per
// client.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimitRPS > 0
}

// SummarySections returns the kinds taken from prior summary Compositions
// and from prior IPS documents in summary mode. SUMMARY_COMPOSITION_SECTIONS
// and SUMMARY_IPS_COMPOSITION_SECTIONS are re-read from the environment on
// every call, falling back to the loaded values when unset.
func (c *Config) SummarySections() (compositions, ipsDocuments section.Selection) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SUMMARY_COMPOSITION_SECTIONS", c.SummaryCompositionSections)
	v.SetDefault("SUMMARY_IPS_COMPOSITION_SECTIONS", c.SummaryIPSCompositionSections)
	compositions, _ = section.ParseSelection(v.GetString("SUMMARY_COMPOSITION_SECTIONS"))
	ipsDocuments, _ = section.ParseSelection(v.GetString("SUMMARY_IPS_COMPOSITION_SECTIONS"))
	return compositions, ipsDocuments
}

// Validate checks that the configuration is safe to run. In production
// AUTH_SIGNING_KEY must be set so that /fhir routes require a token.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", c.Timezone, err)
	}
	for key, value := range map[string]string{
		"SUMMARY_COMPOSITION_SECTIONS":     c.SummaryCompositionSections,
		"SUMMARY_IPS_COMPOSITION_SECTIONS": c.SummaryIPSCompositionSections,
	} {
		if _, unknown := section.ParseSelection(value); len(unknown) > 0 {
			return fmt.Errorf("%s names unknown sections: %s", key, strings.Join(unknown, ", "))
		}
	}
	if c.AddressSimilarityThreshold <= 0 || c.AddressSimilarityThreshold > 100 {
		return fmt.Errorf("ADDRESS_SIMILARITY_THRESHOLD must be in (0, 100], got %v", c.AddressSimilarityThreshold)
	}
	if c.ZoneCacheSize <= 0 {
		return fmt.Errorf("ZONE_CACHE_SIZE must be positive, got %d", c.ZoneCacheSize)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.BreakerFailureThreshold == 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS)
	}
	if c.RateLimitEnabled() && c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive when RATE_LIMIT_RPS is set")
	}
	return nil
}
