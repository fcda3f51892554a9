package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "POLLWAVE"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "pollwave.db"
	defaultLogLevel         = "info"
	defaultCookieName       = "pollwave_visitor"
	defaultIdentityTTLHours = 24 * 365
	defaultFeedLimit        = 20
	defaultPollsPerDay      = 25
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	IdentityCookieName    string
	IdentityCookieSecure  bool
	IdentitySigningSecret string
	IdentityTTL           time.Duration
	FeedDefaultLimit      int
	RedisAddress          string
	RedisPassword         string
	PollsPerDay           int
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("identity.cookie_name", defaultCookieName)
	configViper.SetDefault("identity.cookie_secure", false)
	configViper.SetDefault("identity.ttl_hours", defaultIdentityTTLHours)
	configViper.SetDefault("feed.default_limit", defaultFeedLimit)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("ratelimit.polls_per_day", defaultPollsPerDay)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		IdentityCookieName:    configViper.GetString("identity.cookie_name"),
		IdentityCookieSecure:  configViper.GetBool("identity.cookie_secure"),
		IdentitySigningSecret: configViper.GetString("identity.signing_secret"),
		IdentityTTL:           time.Duration(configViper.GetInt("identity.ttl_hours")) * time.Hour,
		FeedDefaultLimit:      configViper.GetInt("feed.default_limit"),
		RedisAddress:          configViper.GetString("redis.address"),
		RedisPassword:         configViper.GetString("redis.password"),
		PollsPerDay:           configViper.GetInt("ratelimit.polls_per_day"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.IdentityCookieName) == "" {
		return fmt.Errorf("identity.cookie_name is required")
	}
	if strings.TrimSpace(c.IdentitySigningSecret) == "" {
		return fmt.Errorf("identity.signing_secret is required")
	}
	if c.IdentityTTL <= 0 {
		return fmt.Errorf("identity.ttl_hours must be positive")
	}
	if c.FeedDefaultLimit <= 0 {
		return fmt.Errorf("feed.default_limit must be positive")
	}
	if c.PollsPerDay <= 0 {
		return fmt.Errorf("ratelimit.polls_per_day must be positive")
	}
	return nil
}
