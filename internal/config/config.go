package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config centralizes every tunable the pipeline reads: TTLs, chunk sizes,
// channel subjects and retry pacing all live here instead of being
// scattered as literals through the components.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Channels ChannelsConfig `yaml:"channels"`
	Cache    CacheConfig    `yaml:"cache"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     AuthConfig     `yaml:"auth"`
	Limits   LimitsConfig   `yaml:"limits"`
	Audit    AuditConfig    `yaml:"audit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// ChannelsConfig names the bus subjects. Names are configuration, not
// protocol: consumers and producers must agree through this struct only.
type ChannelsConfig struct {
	Priority  string `yaml:"priority"`
	Telemetry string `yaml:"telemetry"`
	Events    string `yaml:"events"`
}

type CacheConfig struct {
	RuleTTLSeconds   int `yaml:"rule_ttl_seconds"`
	StateTTLSeconds  int `yaml:"state_ttl_seconds"`
	WarmupTTLSeconds int `yaml:"warmup_ttl_seconds"`
}

func (c CacheConfig) RuleTTL() time.Duration   { return time.Duration(c.RuleTTLSeconds) * time.Second }
func (c CacheConfig) StateTTL() time.Duration  { return time.Duration(c.StateTTLSeconds) * time.Second }
func (c CacheConfig) WarmupTTL() time.Duration { return time.Duration(c.WarmupTTLSeconds) * time.Second }

type IngestConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

type NotifyConfig struct {
	MaxAttempts          int    `yaml:"max_attempts"`
	RetryDelayMillis     int    `yaml:"retry_delay_millis"`
	BulkDelayMillis      int    `yaml:"bulk_delay_millis"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds"`
	SMTPAddr             string `yaml:"smtp_addr"`
	SMTPFrom             string `yaml:"smtp_from"`
	SMSGatewayURL        string `yaml:"sms_gateway_url"`
	PushGatewayURL       string `yaml:"push_gateway_url"`
	EmergencyNumber      string `yaml:"emergency_number"`
	AlarmWebhookURL      string `yaml:"alarm_webhook_url"`
}

func (n NotifyConfig) RetryDelay() time.Duration {
	return time.Duration(n.RetryDelayMillis) * time.Millisecond
}

func (n NotifyConfig) BulkDelay() time.Duration {
	return time.Duration(n.BulkDelayMillis) * time.Millisecond
}

func (n NotifyConfig) RetryInterval() time.Duration {
	return time.Duration(n.RetryIntervalSeconds) * time.Second
}

type AuthConfig struct {
	JWTSigningKey string   `yaml:"jwt_signing_key"`
	APIKeyHashes  []string `yaml:"api_key_hashes"`
}

// LimitsConfig throttles the device ingest surface. A rate of zero
// disables the limiter.
type LimitsConfig struct {
	IngestRate          int    `yaml:"ingest_rate"`
	IngestWindowSeconds int    `yaml:"ingest_window_seconds"`
	Salt                string `yaml:"salt"`
}

func (l LimitsConfig) IngestWindow() time.Duration {
	return time.Duration(l.IngestWindowSeconds) * time.Second
}

type AuditConfig struct {
	SpoolDir              string `yaml:"spool_dir"`
	SpoolMaxMB            int64  `yaml:"spool_max_mb"`
	ReplayIntervalSeconds int    `yaml:"replay_interval_seconds"`
	RetentionDays         int    `yaml:"retention_days"`
}

func (a AuditConfig) ReplayInterval() time.Duration {
	return time.Duration(a.ReplayIntervalSeconds) * time.Second
}

// Default returns the config the pipeline ships with. Load starts from
// these values so a partial YAML file only overrides what it names.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			SSLMode: "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS:  NATSConfig{URL: "nats://localhost:4222"},
		Channels: ChannelsConfig{
			Priority:  "telematics.priority",
			Telemetry: "telematics.telemetry",
			Events:    "telematics.events",
		},
		Cache: CacheConfig{
			RuleTTLSeconds:   300,
			StateTTLSeconds:  3600,
			WarmupTTLSeconds: 600,
		},
		Ingest: IngestConfig{ChunkSize: 50},
		Notify: NotifyConfig{
			MaxAttempts:          3,
			RetryDelayMillis:     100,
			BulkDelayMillis:      50,
			RetryIntervalSeconds: 60,
		},
		Limits: LimitsConfig{
			IngestRate:          600,
			IngestWindowSeconds: 60,
		},
		Audit: AuditConfig{
			SpoolDir:              "/var/lib/telematics/audit_spool",
			SpoolMaxMB:            256,
			ReplayIntervalSeconds: 30,
			RetentionDays:         365,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides for the connection settings deploys usually inject.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setIfEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfEnv(&cfg.Server.Addr, "SERVER_ADDR")
	setIfEnv(&cfg.Database.Host, "DB_HOST")
	setIfEnv(&cfg.Database.Port, "DB_PORT")
	setIfEnv(&cfg.Database.User, "DB_USER")
	setIfEnv(&cfg.Database.Password, "DB_PASSWORD")
	setIfEnv(&cfg.Database.Name, "DB_NAME")
	setIfEnv(&cfg.Database.SSLMode, "DB_SSLMODE")
	setIfEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	setIfEnv(&cfg.Redis.Password, "REDIS_PASSWORD")
	setIfEnv(&cfg.NATS.URL, "NATS_URL")
	setIfEnv(&cfg.Auth.JWTSigningKey, "JWT_SIGNING_KEY")
}
