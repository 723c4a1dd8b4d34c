// Package config loads securexferd's configuration from (in order of
// increasing precedence) built-in defaults, a YAML config file, and
// SECUREXFER_-prefixed environment variables, following the same
// viper+mapstructure+validator layering the rest of the ecosystem uses.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/relaycrypt/securexfer/internal/bytesize"
)

// defaultPortFile is the path readPortFile checks for a startup port
// override, and the path the server writes its bound port to once
// listening. Matches the original implementation's Constants.PORT_FILE.
const defaultPortFile = "port.info"

// defaultPort is used when defaultPortFile is absent. Matches the
// original's Constants.DEFAULT_PORT.
const defaultPort = 1256

// Config is securexferd's full runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig controls the TCP listener and per-connection limits.
type ServerConfig struct {
	// Host is the interface to bind. Empty means all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port to listen on. 0 lets the kernel pick one,
	// which PortFile then records for clients to discover.
	Port int `mapstructure:"port" validate:"gte=0,lte=65535" yaml:"port"`

	// PortFile, if set, receives the bound port as decimal text.
	PortFile string `mapstructure:"port_file" yaml:"port_file"`

	// FilesDir is the root directory under which per-user uploads land.
	FilesDir string `mapstructure:"files_dir" validate:"required" yaml:"files_dir"`

	// MaxPayloadSize is the sanity cap on a single request's declared
	// payload_size. Requests declaring more are rejected with
	// GENERAL_FAILURE and the session is closed.
	MaxPayloadSize bytesize.ByteSize `mapstructure:"max_payload_size" yaml:"max_payload_size"`

	// IdleTimeout closes a session that sends nothing for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// UploadConfig controls how FILE_UPLOAD chunks are reassembled.
type UploadConfig struct {
	// TruncateOnFirstPacket clears any stale partial upload when
	// packet_number == 1 instead of appending to it.
	TruncateOnFirstPacket bool `mapstructure:"truncate_on_first_packet" yaml:"truncate_on_first_packet"`
}

// LoggingConfig controls log output, matching the rest of the ecosystem's
// logging config shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// MetricsConfig controls the optional Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// Load reads configuration from configPath when it is non-empty (a missing
// or unreadable file is an error), layers SECUREXFER_-prefixed environment variables on top, applies
// defaults for anything still unset, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SECUREXFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// bindDefaults registers every leaf config key with viper via SetDefault.
// This is what makes AutomaticEnv's overrides visible to Unmarshal: viper
// only resolves an environment variable for a key it already knows about,
// so a key with no default, no file entry, and no explicit Bind never
// surfaces even if the env var is set.
func bindDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.port_file", d.Server.PortFile)
	v.SetDefault("server.files_dir", d.Server.FilesDir)
	v.SetDefault("server.max_payload_size", d.Server.MaxPayloadSize.Uint64())
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("upload.truncate_on_first_packet", d.Upload.TruncateOnFirstPacket)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           readPortFile(defaultPortFile),
			PortFile:       defaultPortFile,
			FilesDir:       "files",
			MaxPayloadSize: 16 * bytesize.MiB,
		},
		Upload: UploadConfig{
			TruncateOnFirstPacket: true,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
	return cfg
}

// readPortFile reads the listen port from path as ASCII decimal text,
// matching the original implementation's read_port(): the file is read
// unconditionally on every startup, and only its absence falls back to
// defaultPort. Any other read or parse error also falls back, since an
// operator-editable file with unexpected content shouldn't prevent the
// server from starting.
func readPortFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultPort
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return defaultPort
	}
	return port
}

// applyDefaults fills in any fields viper's Unmarshal left at their zero
// value with the same defaults Default() would have set, so a partial
// config file or environment override doesn't blank out the rest.
func applyDefaults(cfg *Config) {
	if cfg.Server.FilesDir == "" {
		cfg.Server.FilesDir = "files"
	}
	if cfg.Server.MaxPayloadSize == 0 {
		cfg.Server.MaxPayloadSize = 16 * bytesize.MiB
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// decodeHooks composes the mapstructure decode hooks needed for the
// non-primitive config fields: byte sizes and durations expressed as
// human-readable strings in YAML or environment variables.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
