package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TENDER"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "tender.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "tender_session"
	defaultTokenTTLMinutes   = 24 * 60
	defaultGuestCookieHours  = 7 * 24
	defaultPlacesBaseURL     = "https://maps.googleapis.com/maps/api/place"
	defaultPlacesTimeoutSecs = 5
	defaultPlacesMaxResults  = 10
	defaultCacheTTLMinutes   = 60
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	DatabaseDriver    string
	DatabaseDSN       string
	LogLevel          string
	SigningSecret     string
	SessionCookieName string
	SessionTTL        time.Duration
	GuestCookieMaxAge time.Duration
	PlacesAPIKey      string
	PlacesBaseURL     string
	PlacesTimeout     time.Duration
	PlacesMaxResults  int
	CatalogCacheTTL   time.Duration
	CatalogRedisURL   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("guest.cookie_max_age_hours", defaultGuestCookieHours)
	configViper.SetDefault("places.base_url", defaultPlacesBaseURL)
	configViper.SetDefault("places.timeout_seconds", defaultPlacesTimeoutSecs)
	configViper.SetDefault("places.max_results", defaultPlacesMaxResults)
	configViper.SetDefault("catalog.cache_ttl_minutes", defaultCacheTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    parseOrigins(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		SessionCookieName: configViper.GetString("auth.cookie_name"),
		SessionTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		GuestCookieMaxAge: time.Duration(configViper.GetInt("guest.cookie_max_age_hours")) * time.Hour,
		PlacesAPIKey:      configViper.GetString("places.api_key"),
		PlacesBaseURL:     configViper.GetString("places.base_url"),
		PlacesTimeout:     time.Duration(configViper.GetInt("places.timeout_seconds")) * time.Second,
		PlacesMaxResults:  configViper.GetInt("places.max_results"),
		CatalogCacheTTL:   time.Duration(configViper.GetInt("catalog.cache_ttl_minutes")) * time.Minute,
		CatalogRedisURL:   strings.TrimSpace(configViper.GetString("catalog.redis_url")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the settings needed to reach the database.
// Maintenance commands use it so they do not require a signing secret.
func LoadDatabase(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
	}
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// parseOrigins accepts list values and comma separated strings from env or flags.
func parseOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("http.allowed_origins must list explicit origins")
		}
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.GuestCookieMaxAge <= 0 {
		return fmt.Errorf("guest.cookie_max_age_hours must be positive")
	}
	if c.PlacesTimeout <= 0 {
		return fmt.Errorf("places.timeout_seconds must be positive")
	}
	if c.PlacesMaxResults <= 0 {
		return fmt.Errorf("places.max_results must be positive")
	}
	if c.CatalogCacheTTL <= 0 {
		return fmt.Errorf("catalog.cache_ttl_minutes must be positive")
	}
	return c.validateDatabase()
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
