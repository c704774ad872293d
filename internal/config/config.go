package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/sunbk201/speedreader/internal/engine"
)

type Config struct {
	BindAddress     string `yaml:"bind-address" json:"bind-address" validate:"required,ip"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ListenAddr      string `yaml:"-" json:"listen-address"`
	LogLevel        string `yaml:"log-level" json:"log-level" validate:"oneof=debug info warn error"`
	APIServer       string `yaml:"api-server" json:"api-server" validate:"omitempty,hostname_port"`
	APIServerSecret string `yaml:"api-server-secret" json:"-"`

	// SOCKS5Port enables a SOCKS5 inbound next to the HTTP proxy.
	SOCKS5Port       int    `yaml:"socks5-port" json:"socks5-port" validate:"omitempty,min=1,max=65535"`
	SOCKS5ListenAddr string `yaml:"-" json:"socks5-listen-address,omitempty"`

	Whitelist   WhitelistConfig   `yaml:"whitelist" json:"whitelist"`
	SpeedReader SpeedReaderConfig `yaml:"speedreader" json:"speedreader"`
}

type WhitelistConfig struct {
	// File is a compiled whitelist blob. Empty means the built-in one.
	File  string `yaml:"file" json:"file"`
	Watch bool   `yaml:"watch" json:"watch"`
}

type SpeedReaderConfig struct {
	HeuristicsFallback bool          `yaml:"heuristics-fallback" json:"heuristics-fallback"`
	RewriteTimeout     time.Duration `yaml:"rewrite-timeout" json:"rewrite-timeout" validate:"min=0"`
	MaxBodySize        int           `yaml:"max-body-size" json:"max-body-size" validate:"min=0"`
	MinOutputLength    int           `yaml:"min-output-length" json:"min-output-length" validate:"min=0"`
	Workers            int           `yaml:"workers" json:"workers" validate:"min=0"`
	PipeCapacity       int           `yaml:"pipe-capacity" json:"pipe-capacity" validate:"min=0"`
	CacheSize          int           `yaml:"cache-size" json:"cache-size" validate:"min=0"`
	CacheTTL           time.Duration `yaml:"cache-ttl" json:"cache-ttl" validate:"min=0"`

	Theme       string `yaml:"theme" json:"theme" validate:"omitempty,oneof=light dark sepia"`
	FontFamily  string `yaml:"font-family" json:"font-family" validate:"omitempty,oneof=sans serif mono dyslexic"`
	FontSize    string `yaml:"font-size" json:"font-size"`
	ColumnWidth string `yaml:"column-width" json:"column-width" validate:"omitempty,oneof=narrow medium wide"`
}

// SetDefaults registers the default of every key on the global viper.
func SetDefaults() {
	viper.SetDefault("bind-address", "127.0.0.1")
	viper.SetDefault("port", 8080)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("whitelist.watch", true)
	viper.SetDefault("speedreader.rewrite-timeout", "5s")
	viper.SetDefault("speedreader.max-body-size", engine.DefaultMaxBufferSize)
	viper.SetDefault("speedreader.min-output-length", engine.DefaultMinOutputLength)
	viper.SetDefault("speedreader.pipe-capacity", 64<<10)
	viper.SetDefault("speedreader.cache-size", 1024)
	viper.SetDefault("speedreader.cache-ttl", "10m")
}

// BuildConfigFromViper reads the merged flags, env and config file.
func BuildConfigFromViper() (*Config, error) {
	var cfg Config
	err := viper.Unmarshal(&cfg,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		)),
		func(dc *mapstructure.DecoderConfig) {
			dc.TagName = "yaml"
		},
	)
	if err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.SpeedReader.Theme = strings.ToLower(cfg.SpeedReader.Theme)
	cfg.SpeedReader.FontFamily = strings.ToLower(cfg.SpeedReader.FontFamily)
	cfg.SpeedReader.ColumnWidth = strings.ToLower(cfg.SpeedReader.ColumnWidth)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	cfg.ListenAddr = net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))
	if cfg.SOCKS5Port != 0 {
		cfg.SOCKS5ListenAddr = net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.SOCKS5Port))
	}
	return &cfg, nil
}

func (c *Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	if c.SpeedReader.MaxBodySize > 0 {
		opts.MaxBufferSize = c.SpeedReader.MaxBodySize
	}
	opts.MinOutputLength = c.SpeedReader.MinOutputLength
	opts.Theme = c.SpeedReader.Theme
	opts.FontFamily = c.SpeedReader.FontFamily
	opts.FontSize = c.SpeedReader.FontSize
	opts.ColumnWidth = c.SpeedReader.ColumnWidth
	return opts
}

func (c *Config) LogValue() slog.Value {
	whitelist := c.Whitelist.File
	if whitelist == "" {
		whitelist = "built-in"
	}
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.String("Listen Address", c.ListenAddr),
		slog.String("SOCKS5 Address", c.SOCKS5ListenAddr),
		slog.String("API Server", c.APIServer),
		slog.String("Whitelist", whitelist),
		slog.Bool("Whitelist Watch", c.Whitelist.Watch),
		slog.Bool("Heuristics Fallback", c.SpeedReader.HeuristicsFallback),
		slog.Duration("Rewrite Timeout", c.SpeedReader.RewriteTimeout),
		slog.Int("Max Body Size", c.SpeedReader.MaxBodySize),
		slog.Int("Workers", c.SpeedReader.Workers),
	)
}
