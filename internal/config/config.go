package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Definition policies.
const (
	DefinitionPolicyLatest = "latest"
	DefinitionPolicyPinned = "pinned"
)

// Context merge strategies.
const (
	MergeShallow = "shallow"
	MergeDeep    = "deep"
	MergeReplace = "replace"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Storage struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	Definitions struct {
		Source       string        `mapstructure:"source"`
		URL          string        `mapstructure:"url"`
		File         string        `mapstructure:"file"`
		Timeout      time.Duration `mapstructure:"timeout"`
		MaxRetries   int           `mapstructure:"max_retries"`
		ClientID     string        `mapstructure:"client_id"`
		ClientSecret string        `mapstructure:"client_secret"`
		TokenURL     string        `mapstructure:"token_url"`
		Scopes       []string      `mapstructure:"scopes"`
	} `mapstructure:"definitions"`
	Engine struct {
		DefinitionPolicy string `mapstructure:"definition_policy"`
		ContextMerge     string `mapstructure:"context_merge"`
	} `mapstructure:"engine"`
	NATS struct {
		Enabled       bool   `mapstructure:"enabled"`
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`
	Auth struct {
		OktaDomain string `mapstructure:"okta_domain"`
		ClientID   string `mapstructure:"client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Telemetry struct {
		ServiceName  string `mapstructure:"service_name"`
		StdoutTraces bool   `mapstructure:"stdout_traces"`
	} `mapstructure:"telemetry"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// DatabaseURL renders the pgx connection string for the DB section.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DB.User, c.DB.Password),
		Host:   fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:   c.DB.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.DB.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// LoadConfig loads the configuration from an optional .env file, a
// config.yaml in . or ./config, and WORKFLOW_ prefixed environment variables.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// a missing .env is normal outside local development
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("WORKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Definitions.URL = strings.TrimRight(strings.TrimSpace(config.Definitions.URL), "/")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "workflow")
	v.SetDefault("db.password", "workflow")
	v.SetDefault("db.name", "workflow")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("definitions.source", "http")
	v.SetDefault("definitions.url", "http://localhost:8081")
	v.SetDefault("definitions.file", "definitions.yaml")
	v.SetDefault("definitions.timeout", 3*time.Second)
	v.SetDefault("definitions.max_retries", 2)
	v.SetDefault("definitions.client_id", "")
	v.SetDefault("definitions.client_secret", "")
	v.SetDefault("definitions.token_url", "")
	v.SetDefault("definitions.scopes", []string{})
	v.SetDefault("engine.definition_policy", DefinitionPolicyLatest)
	v.SetDefault("engine.context_merge", MergeShallow)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "workflow")
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{"localhost"})
	v.SetDefault("telemetry.service_name", "workflow-core")
	v.SetDefault("telemetry.stdout_traces", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks enum-like settings and required combinations.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	switch c.Definitions.Source {
	case "http":
		if c.Definitions.URL == "" {
			return errors.New("definitions.url is required when definitions.source is http")
		}
	case "file":
		if c.Definitions.File == "" {
			return errors.New("definitions.file is required when definitions.source is file")
		}
	default:
		return fmt.Errorf("definitions.source must be http or file, got %q", c.Definitions.Source)
	}
	if c.Definitions.Timeout <= 0 {
		return errors.New("definitions.timeout must be positive")
	}
	if c.Definitions.MaxRetries < 0 {
		return errors.New("definitions.max_retries must not be negative")
	}
	switch c.Engine.DefinitionPolicy {
	case DefinitionPolicyLatest, DefinitionPolicyPinned:
	default:
		return fmt.Errorf("engine.definition_policy must be latest or pinned, got %q", c.Engine.DefinitionPolicy)
	}
	switch c.Engine.ContextMerge {
	case MergeShallow, MergeDeep, MergeReplace:
	default:
		return fmt.Errorf("engine.context_merge must be shallow, deep or replace, got %q", c.Engine.ContextMerge)
	}
	if !c.DevModeBypass && c.Environment == "production" && c.Auth.OktaDomain == "" {
		return errors.New("auth.okta_domain is required in production")
	}
	return nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
