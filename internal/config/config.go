package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "GROCERIES"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "groceries.db"
	defaultLogLevel     = "info"
	defaultRegion       = "auto"
	defaultUploadTTL    = 5 * time.Minute
	defaultDownloadTTL  = 24 * time.Hour
	defaultDebounce     = 5 * time.Second
	defaultAutoSyncGap  = time.Hour
)

// AppConfig captures runtime configuration for the API server and sync client.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	// Shared-secret pass protecting the coordination endpoints. PassEnabled
	// mirrors the server-side disable flag used in development.
	Pass        string
	PassEnabled bool

	// Base URL of the coordination service, consumed by the sync client.
	SyncBaseURL string

	// R2/S3 credentials used by the server-side presigner.
	ObjectEndpoint  string
	ObjectBucket    string
	ObjectAccessKey string
	ObjectSecretKey string
	ObjectRegion    string

	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration

	SyncDebounce    time.Duration
	AutoSyncMinimum time.Duration

	YouTubeAPIKey   string
	AnthropicAPIKey string
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
	configViper.SetDefault("auth.pass_enabled", true)
	configViper.SetDefault("object.region", defaultRegion)
	configViper.SetDefault("object.upload_ttl", defaultUploadTTL)
	configViper.SetDefault("object.download_ttl", defaultDownloadTTL)
	configViper.SetDefault("sync.debounce", defaultDebounce)
	configViper.SetDefault("sync.auto_minimum", defaultAutoSyncGap)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		Pass:            configViper.GetString("auth.pass"),
		PassEnabled:     configViper.GetBool("auth.pass_enabled"),
		SyncBaseURL:     configViper.GetString("sync.base_url"),
		ObjectEndpoint:  configViper.GetString("object.endpoint"),
		ObjectBucket:    configViper.GetString("object.bucket"),
		ObjectAccessKey: configViper.GetString("object.access_key"),
		ObjectSecretKey: configViper.GetString("object.secret_key"),
		ObjectRegion:    configViper.GetString("object.region"),
		UploadURLTTL:    configViper.GetDuration("object.upload_ttl"),
		DownloadURLTTL:  configViper.GetDuration("object.download_ttl"),
		SyncDebounce:    configViper.GetDuration("sync.debounce"),
		AutoSyncMinimum: configViper.GetDuration("sync.auto_minimum"),
		YouTubeAPIKey:   configViper.GetString("youtube.api_key"),
		AnthropicAPIKey: configViper.GetString("anthropic.api_key"),
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
	if c.PassEnabled && strings.TrimSpace(c.Pass) == "" {
		return fmt.Errorf("auth.pass is required while auth.pass_enabled is true")
	}
	if c.UploadURLTTL <= 0 || c.DownloadURLTTL <= 0 {
		return fmt.Errorf("object URL lifetimes must be positive")
	}
	if c.SyncDebounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive")
	}
	return nil
}
