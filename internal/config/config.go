// Package config loads kbchat settings.
//
// Precedence, highest first: command-line flags, KBCHAT_* environment
// variables (a .env file in the working directory is loaded into the
// environment first), $XDG_CONFIG_HOME/kbchat/config.json, defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/qm4/kbchat/internal/httpclient"
	"github.com/qm4/kbchat/internal/logger"
)

const (
	appName    = "kbchat"
	configFile = "config.json"
	envPrefix  = "KBCHAT"

	DefaultBaseURL     = "http://localhost:8080"
	DefaultAPIPrefix   = "/api"
	DefaultDialTimeout = 30
)

// Config is the top-level configuration.
type Config struct {
	BaseURL            string            `json:"base_url" mapstructure:"base_url"`
	APIPrefix          string            `json:"api_prefix" mapstructure:"api_prefix"`
	Transport          string            `json:"transport" mapstructure:"transport"`
	DialTimeoutSeconds int               `json:"dial_timeout_seconds" mapstructure:"dial_timeout_seconds"`
	Headers            map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Verbose            bool              `json:"verbose,omitempty" mapstructure:"verbose"`
	LogFormat          string            `json:"log_format" mapstructure:"log_format"`

	Stream StreamConfig `json:"stream" mapstructure:"stream"`
	Chat   ChatConfig   `json:"chat" mapstructure:"chat"`
}

// StreamConfig holds settings of the SSE reader.
type StreamConfig struct {
	// EmitTrailingFrame dispatches an unterminated last line instead of
	// dropping it.
	EmitTrailingFrame bool `json:"emit_trailing_frame" mapstructure:"emit_trailing_frame"`
}

// ChatConfig holds defaults for chat requests.
type ChatConfig struct {
	EnableRAG bool `json:"enable_rag" mapstructure:"enable_rag"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:            DefaultBaseURL,
		APIPrefix:          DefaultAPIPrefix,
		Transport:          httpclient.TransportDefault,
		DialTimeoutSeconds: DefaultDialTimeout,
		LogFormat:          logger.FormatPretty,
		Chat:               ChatConfig{EnableRAG: true},
	}
}

// Load reads .env, the config file and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadFile(FilePath())
}

// LoadFile reads the config file at path (a missing file is not an error)
// and applies KBCHAT_* environment overrides.
func LoadFile(path string) (*Config, error) {
	v, err := readFile(path)
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// ReadFile reads the config file at path over the defaults, ignoring the
// environment. It is what "config set" edits and saves back.
func ReadFile(path string) (*Config, error) {
	v, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("api_prefix", d.APIPrefix)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("dial_timeout_seconds", d.DialTimeoutSeconds)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("stream.emit_trailing_frame", d.Stream.EmitTrailingFrame)
	v.SetDefault("chat.enable_rag", d.Chat.EnableRAG)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: base_url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	switch c.Transport {
	case "", httpclient.TransportDefault, httpclient.TransportChrome:
	default:
		return fmt.Errorf("config: transport must be %q or %q, got %q", httpclient.TransportDefault, httpclient.TransportChrome, c.Transport)
	}
	switch c.LogFormat {
	case "", logger.FormatPretty, logger.FormatJSON, logger.FormatText:
	default:
		return fmt.Errorf("config: log_format must be pretty, json or text, got %q", c.LogFormat)
	}
	if c.DialTimeoutSeconds < 0 {
		return fmt.Errorf("config: dial_timeout_seconds must not be negative")
	}
	return nil
}

// DialTimeout returns DialTimeoutSeconds as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// Set assigns one key as written by "kbchat config set". Header keys use the
// form headers.<Name>; an empty value removes the header.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(key)

	if name, ok := strings.CutPrefix(key, "headers."); ok && name != "" {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		if value == "" {
			delete(c.Headers, name)
		} else {
			c.Headers[name] = value
		}
		return nil
	}

	switch key {
	case "base_url":
		c.BaseURL = value
	case "api_prefix":
		c.APIPrefix = value
	case "transport":
		c.Transport = value
	case "log_format":
		c.LogFormat = value
	case "dial_timeout_seconds":
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int for %s: %q", key, value)
		}
		c.DialTimeoutSeconds = parsed
	case "verbose":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %q", key, value)
		}
		c.Verbose = parsed
	case "stream.emit_trailing_frame":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %q", key, value)
		}
		c.Stream.EmitTrailingFrame = parsed
	case "chat.enable_rag":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %q", key, value)
		}
		c.Chat.EnableRAG = parsed
	default:
		return fmt.Errorf("unsupported config key: %s", key)
	}
	return c.Validate()
}

// Save writes cfg to the config file.
func Save(cfg *Config) error {
	return SaveFile(FilePath(), cfg)
}

// SaveFile writes cfg as indented JSON to path.
func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(configBaseDir(), appName, configFile)
}

func configBaseDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".config")
	}
	return dir
}
