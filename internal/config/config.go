package config

import (
	"time"
)

type Config struct {
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Providers    ProvidersConfig `mapstructure:"providers"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type StateStorage struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SyncConfig struct {
	// BatchLimit caps the record count requested from an upstream server
	// per connection per pass.
	BatchLimit int `mapstructure:"batch_limit"`
	// FallbackLookback bounds the first pull for a connection that has no
	// cursor yet (or whose cursor was lost).
	FallbackLookback string `mapstructure:"fallback_lookback"`
	UpstreamTimeout  string `mapstructure:"upstream_timeout"`
	LeaseTTL         string `mapstructure:"lease_ttl"`
}

func (s SyncConfig) GetFallbackLookback() time.Duration {
	d, _ := time.ParseDuration(s.FallbackLookback)
	return d
}

func (s SyncConfig) GetUpstreamTimeout() time.Duration {
	d, _ := time.ParseDuration(s.UpstreamTimeout)
	return d
}

func (s SyncConfig) GetLeaseTTL() time.Duration {
	d, _ := time.ParseDuration(s.LeaseTTL)
	return d
}

type ProvidersConfig struct {
	Dexcom DexcomConfig `mapstructure:"dexcom"`
}

type DexcomConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type SchedulerConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Interval  string   `mapstructure:"interval"`
	Providers []string `mapstructure:"providers"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
