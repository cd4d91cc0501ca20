package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultPort                 = 9999
	DefaultPingInterval         = 25 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultSendBuffer           = 256
	DefaultPinAttemptBurst      = 5
	DefaultLogLevel             = "info"
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultPinAttemptsPerMinute = 0

	// EnvPrefix namespaces environment overrides, e.g. DESKRELAY_PING_TIMEOUT.
	EnvPrefix = "DESKRELAY"
)

// Keys understood by Load. Flags registered by BindFlags use the same names
// with dashes instead of underscores.
const (
	KeyPort                 = "port"
	KeyPingInterval         = "ping_interval"
	KeyPingTimeout          = "ping_timeout"
	KeyMaxMessageBytes      = "max_message_bytes"
	KeySendBuffer           = "send_buffer"
	KeyAllowedOrigins       = "allowed_origins"
	KeyPinAttemptsPerMinute = "pin_attempts_per_minute"
	KeyPinAttemptBurst      = "pin_attempt_burst"
	KeyLogLevel             = "log_level"
	KeyShutdownTimeout      = "shutdown_timeout"
)

// Config holds the relay configuration.
type Config struct {
	Port int

	// Keepalive: a ping every PingInterval, and a connection with no
	// inbound traffic for PingTimeout is dropped.
	PingInterval time.Duration
	PingTimeout  time.Duration

	MaxMessageBytes int64
	SendBuffer      int

	// AllowedOrigins restricts browser origins on /ws. Empty allows all.
	AllowedOrigins []string

	// PinAttemptsPerMinute caps verify_pin per connection; 0 disables.
	PinAttemptsPerMinute int
	PinAttemptBurst      int

	LogLevel        string
	ShutdownTimeout time.Duration
}

// ListenAddr is the address the HTTP server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Hosting platforms hand the port over as a bare PORT and the log level
	// as LOG_LEVEL.
	_ = v.BindEnv(KeyPort, EnvPrefix+"_PORT", "PORT")
	_ = v.BindEnv(KeyLogLevel, EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	return v
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyPingInterval, DefaultPingInterval)
	v.SetDefault(KeyPingTimeout, DefaultPingTimeout)
	v.SetDefault(KeyMaxMessageBytes, DefaultMaxMessageBytes)
	v.SetDefault(KeySendBuffer, DefaultSendBuffer)
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyPinAttemptsPerMinute, DefaultPinAttemptsPerMinute)
	v.SetDefault(KeyPinAttemptBurst, DefaultPinAttemptBurst)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyShutdownTimeout, DefaultShutdownTimeout)
}

// BindFlags registers the serve flags on fs and binds them to v, so a flag
// set on the command line wins over file and environment.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.Int(flagName(KeyPort), DefaultPort, "port to listen on")
	fs.Duration(flagName(KeyPingInterval), DefaultPingInterval, "interval between keepalive pings")
	fs.Duration(flagName(KeyPingTimeout), DefaultPingTimeout, "drop a connection after this long without traffic")
	fs.Int64(flagName(KeyMaxMessageBytes), DefaultMaxMessageBytes, "largest inbound frame accepted")
	fs.Int(flagName(KeySendBuffer), DefaultSendBuffer, "outbound frames buffered per connection")
	fs.StringSlice(flagName(KeyAllowedOrigins), nil, "browser origins allowed on /ws (default: all)")
	fs.Int(flagName(KeyPinAttemptsPerMinute), DefaultPinAttemptsPerMinute, "verify_pin attempts per connection per minute (0: unlimited)")
	fs.Int(flagName(KeyPinAttemptBurst), DefaultPinAttemptBurst, "verify_pin attempts allowed back to back")
	fs.Duration(flagName(KeyShutdownTimeout), DefaultShutdownTimeout, "grace period for shutdown")

	for _, key := range []string{
		KeyPort, KeyPingInterval, KeyPingTimeout, KeyMaxMessageBytes, KeySendBuffer,
		KeyAllowedOrigins, KeyPinAttemptsPerMinute, KeyPinAttemptBurst, KeyShutdownTimeout,
	} {
		if err := v.BindPFlag(key, fs.Lookup(flagName(key))); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

// ReadFile merges a config file into v. A missing .env is fine; a missing
// explicitly named config file is not.
func ReadFile(v *viper.Viper, path string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

// Load resolves the final configuration. Priority, highest first:
// 1. command-line flags bound with BindFlags
// 2. environment variables
// 3. config file
// 4. defaults
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:                 v.GetInt(KeyPort),
		PingInterval:         v.GetDuration(KeyPingInterval),
		PingTimeout:          v.GetDuration(KeyPingTimeout),
		MaxMessageBytes:      v.GetInt64(KeyMaxMessageBytes),
		SendBuffer:           v.GetInt(KeySendBuffer),
		AllowedOrigins:       cleanList(v.GetStringSlice(KeyAllowedOrigins)),
		PinAttemptsPerMinute: v.GetInt(KeyPinAttemptsPerMinute),
		PinAttemptBurst:      v.GetInt(KeyPinAttemptBurst),
		LogLevel:             v.GetString(KeyLogLevel),
		ShutdownTimeout:      v.GetDuration(KeyShutdownTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be within 1..65535, got %d", KeyPort, c.Port))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyPingInterval))
	}
	if c.PingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyPingTimeout))
	}
	if c.PingInterval > 0 && c.PingTimeout > 0 && c.PingInterval >= c.PingTimeout {
		errs = append(errs, fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			KeyPingInterval, c.PingInterval, KeyPingTimeout, c.PingTimeout))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxMessageBytes))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeySendBuffer))
	}
	if c.PinAttemptsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyPinAttemptsPerMinute))
	}
	if c.PinAttemptsPerMinute > 0 && c.PinAttemptBurst <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive when %s is set", KeyPinAttemptBurst, KeyPinAttemptsPerMinute))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyShutdownTimeout))
	}
	return errors.Join(errs...)
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		// Environment values arrive as one comma separated string.
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
