package config

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/viper"
)

const (
	LoginPolicyReuse = "reuse"
	LoginPolicyRenew = "renew"
)

type Config struct {
	AppPort string

	SessionsDir string
	WipeOnStart bool

	QRTimeout      time.Duration
	ReconnectDelay time.Duration
	MaxRetries     int
	WipeThreshold  int
	LoginPolicy    string
	LoginWait      time.Duration

	SendRatePerMinute int

	APITokenHash string
	OIDCIssuer   string
	OIDCClientID string

	RedisAddr     string
	RedisPassword string
	SnapshotTTL   time.Duration

	DatabaseDSN string

	LogLevel        string
	ShutdownTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_port", "8080")

	v.SetDefault("sessions_dir", "sessions")
	v.SetDefault("wipe_on_start", false)

	v.SetDefault("qr_timeout", 30*time.Second)
	v.SetDefault("reconnect_delay", 5*time.Second)
	v.SetDefault("max_retries", 5)
	v.SetDefault("wipe_threshold", 3)
	v.SetDefault("login_policy", LoginPolicyReuse)
	v.SetDefault("login_wait", 10*time.Second)

	v.SetDefault("send_rate_per_minute", 0)

	v.SetDefault("api_token_hash", "")
	v.SetDefault("oidc_issuer", "")
	v.SetDefault("oidc_client_id", "")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("snapshot_ttl", 24*time.Hour)

	v.SetDefault("database_dsn", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads defaults, then the optional YAML file, then environment
// variables (APP_PORT, REDIS_ADDR, ...), later sources winning.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, oops.
				In("config").
				With("file", cfgFile).
				Wrapf(err, "read config file")
		}
	}

	cfg := Config{
		AppPort: v.GetString("app_port"),

		SessionsDir: v.GetString("sessions_dir"),
		WipeOnStart: v.GetBool("wipe_on_start"),

		QRTimeout:      v.GetDuration("qr_timeout"),
		ReconnectDelay: v.GetDuration("reconnect_delay"),
		MaxRetries:     v.GetInt("max_retries"),
		WipeThreshold:  v.GetInt("wipe_threshold"),
		LoginPolicy:    v.GetString("login_policy"),
		LoginWait:      v.GetDuration("login_wait"),

		SendRatePerMinute: v.GetInt("send_rate_per_minute"),

		APITokenHash: v.GetString("api_token_hash"),
		OIDCIssuer:   v.GetString("oidc_issuer"),
		OIDCClientID: v.GetString("oidc_client_id"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		SnapshotTTL:   v.GetDuration("snapshot_ttl"),

		DatabaseDSN: v.GetString("database_dsn"),

		LogLevel:        v.GetString("log_level"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	errb := oops.In("config")

	if c.AppPort == "" {
		return errb.Errorf("app_port must not be empty")
	}
	if c.SessionsDir == "" {
		return errb.Errorf("sessions_dir must not be empty")
	}
	if c.QRTimeout <= 0 || c.ReconnectDelay <= 0 {
		return errb.
			With("qr_timeout", c.QRTimeout, "reconnect_delay", c.ReconnectDelay).
			Errorf("qr_timeout and reconnect_delay must be positive")
	}
	if c.MaxRetries < 0 || c.WipeThreshold < 0 {
		return errb.Errorf("max_retries and wipe_threshold must not be negative")
	}
	if c.LoginPolicy != LoginPolicyReuse && c.LoginPolicy != LoginPolicyRenew {
		return errb.
			With("login_policy", c.LoginPolicy).
			Errorf("login_policy must be %q or %q", LoginPolicyReuse, LoginPolicyRenew)
	}
	if (c.OIDCIssuer == "") != (c.OIDCClientID == "") {
		return errb.Errorf("oidc_issuer and oidc_client_id must be set together")
	}
	if c.SendRatePerMinute < 0 {
		return errb.Errorf("send_rate_per_minute must not be negative")
	}

	return nil
}
