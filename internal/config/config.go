package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/alert"
	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/credential"
	"github.com/newthinker/tinkclaw/internal/quota"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes environment overrides, e.g. TINKCLAW_API_API_KEY.
const EnvPrefix = "TINKCLAW"

type Config struct {
	API         APIConfig                 `mapstructure:"api"`
	Quota       QuotaConfig               `mapstructure:"quota"`
	Credentials CredentialsConfig         `mapstructure:"credentials"`
	Stream      StreamConfig              `mapstructure:"stream"`
	Strategy    StrategyConfig            `mapstructure:"strategy"`
	Broker      BrokerConfig              `mapstructure:"broker"`
	Risk        RiskConfig                `mapstructure:"risk"`
	Receiver    ReceiverConfig            `mapstructure:"receiver"`
	Notifiers   map[string]NotifierConfig `mapstructure:"notifiers"`
	Alerts      AlertsConfig              `mapstructure:"alerts"`
	Log         LogConfig                 `mapstructure:"log"`
	Metrics     MetricsConfig             `mapstructure:"metrics"`
}

// APIConfig holds the remote service connection settings.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	StreamURL         string        `mapstructure:"stream_url"`
	APIKey            string        `mapstructure:"api_key"`
	Tier              string        `mapstructure:"tier"` // empty infers from the key prefix
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type QuotaConfig struct {
	Timezone      string         `mapstructure:"timezone"`
	Tiers         map[string]int `mapstructure:"tiers"`
	RetentionDays int            `mapstructure:"retention_days"`
	Store         StoreConfig    `mapstructure:"store"`
}

type StoreConfig struct {
	Type          string `mapstructure:"type"`
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

type CredentialsConfig struct {
	GraceWindow time.Duration `mapstructure:"grace_window"`
	Store       StoreConfig   `mapstructure:"store"`
}

type StreamConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Channels        []string      `mapstructure:"channels"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
	StabilityWindow time.Duration `mapstructure:"stability_window"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	QueueSize       int           `mapstructure:"queue_size"`
	// EvaluateOnPush runs the strategy on every pushed signal for a
	// watched symbol, not only on the schedule.
	EvaluateOnPush bool `mapstructure:"evaluate_on_push"`
}

type BackoffConfig struct {
	Base   time.Duration `mapstructure:"base"`
	Cap    time.Duration `mapstructure:"cap"`
	Jitter time.Duration `mapstructure:"jitter"`
}

type StrategyConfig struct {
	Name          string         `mapstructure:"name"`
	Symbols       []string       `mapstructure:"symbols"`
	IntervalHours float64        `mapstructure:"interval_hours"`
	MaxIterations int            `mapstructure:"max_iterations"`
	MaxStaleness  time.Duration  `mapstructure:"max_staleness"` // 0 means one interval
	Mode          string         `mapstructure:"mode"`
	JournalSize   int            `mapstructure:"journal_size"`
	Params        map[string]any `mapstructure:"params"`
}

// BrokerConfig holds broker integration settings.
type BrokerConfig struct {
	Provider string       `mapstructure:"provider"` // none, paper or alpaca
	Cash     float64      `mapstructure:"cash"`     // paper starting cash
	Alpaca   AlpacaConfig `mapstructure:"alpaca"`
}

// AlpacaConfig holds Alpaca broker settings.
type AlpacaConfig struct {
	KeyID     string `mapstructure:"key_id"`
	SecretKey string `mapstructure:"secret_key"`
	Paper     bool   `mapstructure:"paper"`
	BaseURL   string `mapstructure:"base_url"`
}

type RiskConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxPositionSize  float64 `mapstructure:"max_position_size"` // 0 disables the size check
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	MaxPositionPct   float64 `mapstructure:"max_position_pct"`
}

// ReceiverConfig configures the inbound HTTP receiver.
type ReceiverConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	APIKey        string `mapstructure:"api_key"` // guards the intent endpoints
}

type NotifierConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	URL      string `mapstructure:"url"`
	// Email notifier fields
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	// Webhook notifier fields
	Headers map[string]string `mapstructure:"headers"`
}

// AlertsConfig configures operational alerts. An empty rule list uses
// alert.DefaultRules.
type AlertsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Rules    []alert.Rule  `mapstructure:"rules"`
}

// EffectiveRules returns the configured rules or the defaults.
func (a AlertsConfig) EffectiveRules() []alert.Rule {
	if len(a.Rules) == 0 {
		return alert.DefaultRules()
	}
	return a.Rules
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// secrets can be supplied through the environment without a config entry.
var secrets = map[string][]string{
	"api.api_key":                      {EnvPrefix + "_API_KEY", EnvPrefix + "_API_API_KEY"},
	"api.tier":                         {EnvPrefix + "_TIER", EnvPrefix + "_API_TIER"},
	"broker.alpaca.key_id":             {"APCA_API_KEY_ID", EnvPrefix + "_BROKER_ALPACA_KEY_ID"},
	"broker.alpaca.secret_key":         {"APCA_API_SECRET_KEY", EnvPrefix + "_BROKER_ALPACA_SECRET_KEY"},
	"receiver.webhook_secret":          {EnvPrefix + "_RECEIVER_WEBHOOK_SECRET"},
	"receiver.api_key":                 {EnvPrefix + "_RECEIVER_API_KEY"},
	"credentials.store.encryption_key": {EnvPrefix + "_CREDENTIALS_STORE_ENCRYPTION_KEY"},
}

// Load reads configuration from file over the defaults. An empty path
// loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Support environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, envs := range secrets {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://api.tinkclaw.com",
			StreamURL:         "wss://stream.tinkclaw.com/v1/ws",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Quota: QuotaConfig{
			Timezone:      "UTC",
			RetentionDays: 30,
			Store:         StoreConfig{Type: "memory"},
		},
		Credentials: CredentialsConfig{
			GraceWindow: credential.DefaultGraceWindow,
			Store:       StoreConfig{Type: "memory"},
		},
		Stream: StreamConfig{
			Enabled:  false,
			Channels: []string{"tick", "candle:60", "signal"},
			Backoff: BackoffConfig{
				Base:   time.Second,
				Cap:    60 * time.Second,
				Jitter: 250 * time.Millisecond,
			},
			StabilityWindow: 30 * time.Second,
			PingInterval:    20 * time.Second,
			QueueSize:       256,
		},
		Strategy: StrategyConfig{
			Name:          "momentum",
			IntervalHours: 1,
			Mode:          string(broker.ExecutionAuto),
			JournalSize:   1000,
		},
		Broker: BrokerConfig{
			Provider: "none",
			Cash:     100000,
			Alpaca:   AlpacaConfig{Paper: true},
		},
		Risk: RiskConfig{
			MaxOpenPositions: 20,
			MaxPositionPct:   10,
		},
		Receiver: ReceiverConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Alerts: AlertsConfig{
			Interval: time.Minute,
			Cooldown: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("api.api_key is required (or set %s_API_KEY)", EnvPrefix))
	}
	if c.API.BaseURL == "" {
		return core.WrapError(core.ErrConfigMissing, errors.New("api.base_url is required"))
	}
	if c.API.Tier != "" {
		if _, err := quota.ParseTier(c.API.Tier); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}
	if c.API.RequestsPerSecond < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("requests_per_second cannot be negative, got %f", c.API.RequestsPerSecond))
	}

	if _, err := c.Quota.Location(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if _, err := c.Quota.Limits(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if err := c.Quota.Store.validate("quota.store", "sqlite"); err != nil {
		return err
	}
	if err := c.Credentials.Store.validate("credentials.store", "badger"); err != nil {
		return err
	}
	if _, err := credential.ParseEncryptionKey(c.Credentials.Store.EncryptionKey); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}

	b := c.Stream.Backoff
	if b.Base <= 0 || b.Cap < b.Base || b.Jitter < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("stream backoff needs 0 < base <= cap and jitter >= 0, got %s/%s/%s", b.Base, b.Cap, b.Jitter))
	}

	if c.Strategy.IntervalHours <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("interval_hours must be positive, got %f", c.Strategy.IntervalHours))
	}
	if c.Strategy.MaxIterations < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_iterations cannot be negative, got %d", c.Strategy.MaxIterations))
	}
	if _, err := broker.ParseMode(c.Strategy.Mode); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}

	if c.Alerts.Enabled {
		if c.Alerts.Interval <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("alerts.interval must be positive, got %s", c.Alerts.Interval))
		}
		for _, r := range c.Alerts.Rules {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}

	switch c.Broker.Provider {
	case "", "none", "paper":
	case "alpaca":
		if c.Broker.Alpaca.KeyID == "" || c.Broker.Alpaca.SecretKey == "" {
			return core.WrapError(core.ErrConfigMissing,
				errors.New("alpaca key_id and secret_key required when provider is alpaca"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown broker provider %q", c.Broker.Provider))
	}

	if c.Risk.MaxPositionSize < 0 || c.Risk.MaxOpenPositions < 0 || c.Risk.MaxPositionPct < 0 {
		return core.WrapError(core.ErrConfigInvalid, errors.New("risk limits cannot be negative"))
	}

	if c.Receiver.Enabled && (c.Receiver.Port < 1 || c.Receiver.Port > 65535) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Receiver.Port))
	}

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}

	return nil
}

func (s StoreConfig) validate(name, persistent string) error {
	switch s.Type {
	case "", "memory":
		return nil
	case persistent:
		if s.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("%s.path required for %s", name, persistent))
		}
		return nil
	}
	return core.WrapError(core.ErrConfigInvalid,
		fmt.Errorf("%s.type must be memory or %s, got %q", name, persistent, s.Type))
}

// Location returns the reference zone for quota day buckets.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quota timezone: %w", err)
	}
	return loc, nil
}

// Limits returns the default tier limits overlaid with configured ones.
func (q QuotaConfig) Limits() (quota.Limits, error) {
	limits := quota.DefaultLimits()
	for name, n := range q.Tiers {
		tier, err := quota.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("tier %s limit must be positive, got %d", name, n)
		}
		limits[tier] = n
	}
	return limits, nil
}

// Interval returns the strategy polling interval.
func (s StrategyConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours * float64(time.Hour))
}

// Staleness returns how old a streamed snapshot may be before polling.
func (s StrategyConfig) Staleness() time.Duration {
	if s.MaxStaleness > 0 {
		return s.MaxStaleness
	}
	return s.Interval()
}

// TierValue returns the configured tier, or the one implied by the key.
func (a APIConfig) TierValue() quota.Tier {
	if t, err := quota.ParseTier(a.Tier); err == nil {
		return t
	}
	return quota.TierFromKey(a.APIKey)
}
