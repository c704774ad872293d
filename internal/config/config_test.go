package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// resetViper resets viper global state and sets the defaults cmd/root.go
// registers.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
}

// writeConfigFile writes YAML content to a temp file.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// loadConfigFile merges a YAML config file into viper.
func loadConfigFile(t *testing.T, path string) {
	t.Helper()
	viper.SetConfigFile(path)
	if err := viper.MergeInConfig(); err != nil {
		t.Fatalf("failed to merge config file: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	resetViper(t)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"BindAddress", cfg.BindAddress, "127.0.0.1"},
		{"Port", cfg.Port, 8080},
		{"ListenAddr", cfg.ListenAddr, "127.0.0.1:8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"APIServer", cfg.APIServer, ""},
		{"Whitelist.File", cfg.Whitelist.File, ""},
		{"Whitelist.Watch", cfg.Whitelist.Watch, true},
		{"HeuristicsFallback", cfg.SpeedReader.HeuristicsFallback, false},
		{"RewriteTimeout", cfg.SpeedReader.RewriteTimeout, 5 * time.Second},
		{"MaxBodySize", cfg.SpeedReader.MaxBodySize, 8 << 20},
		{"MinOutputLength", cfg.SpeedReader.MinOutputLength, 0},
		{"Workers", cfg.SpeedReader.Workers, 0},
		{"PipeCapacity", cfg.SpeedReader.PipeCapacity, 64 << 10},
		{"CacheSize", cfg.SpeedReader.CacheSize, 1024},
		{"CacheTTL", cfg.SpeedReader.CacheTTL, 10 * time.Minute},
		{"Theme", cfg.SpeedReader.Theme, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfigFromFile(t *testing.T) {
	resetViper(t)

	content := `
bind-address: 0.0.0.0
port: 3128
log-level: debug
api-server: 127.0.0.1:9090
api-server-secret: s3cret
whitelist:
  file: /etc/speedreader/whitelist.bin
  watch: false
speedreader:
  heuristics-fallback: true
  rewrite-timeout: 2s
  max-body-size: 1048576
  min-output-length: 200
  workers: 4
  pipe-capacity: 4096
  cache-size: 16
  cache-ttl: 1m
  theme: dark
  font-family: serif
  font-size: 120%
  column-width: wide
`
	loadConfigFile(t, writeConfigFile(t, content))

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:3128" {
		t.Errorf("ListenAddr = %v, want 0.0.0.0:3128", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.APIServer != "127.0.0.1:9090" || cfg.APIServerSecret != "s3cret" {
		t.Errorf("APIServer = %v secret %v", cfg.APIServer, cfg.APIServerSecret)
	}
	if cfg.Whitelist.File != "/etc/speedreader/whitelist.bin" || cfg.Whitelist.Watch {
		t.Errorf("Whitelist = %+v", cfg.Whitelist)
	}
	sr := cfg.SpeedReader
	if !sr.HeuristicsFallback {
		t.Error("HeuristicsFallback should be true")
	}
	if sr.RewriteTimeout != 2*time.Second {
		t.Errorf("RewriteTimeout = %v, want 2s", sr.RewriteTimeout)
	}
	if sr.MaxBodySize != 1<<20 || sr.MinOutputLength != 200 || sr.Workers != 4 || sr.PipeCapacity != 4096 {
		t.Errorf("SpeedReader sizes = %+v", sr)
	}
	if sr.CacheSize != 16 || sr.CacheTTL != time.Minute {
		t.Errorf("cache = %d %v", sr.CacheSize, sr.CacheTTL)
	}

	opts := cfg.EngineOptions()
	if opts.MaxBufferSize != 1<<20 || opts.MinOutputLength != 200 {
		t.Errorf("EngineOptions sizes = %+v", opts)
	}
	if opts.Theme != "dark" || opts.FontFamily != "serif" || opts.FontSize != "120%" || opts.ColumnWidth != "wide" {
		t.Errorf("EngineOptions presentation = %+v", opts)
	}
}

func TestCaseNormalization(t *testing.T) {
	resetViper(t)

	viper.Set("log-level", "DEBUG")
	viper.Set("speedreader.theme", "Sepia")
	viper.Set("speedreader.column-width", "NARROW")

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.SpeedReader.Theme != "sepia" {
		t.Errorf("Theme = %v, want sepia", cfg.SpeedReader.Theme)
	}
	if cfg.SpeedReader.ColumnWidth != "narrow" {
		t.Errorf("ColumnWidth = %v, want narrow", cfg.SpeedReader.ColumnWidth)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"port zero", "port", 0},
		{"port negative", "port", -1},
		{"port too large", "port", 70000},
		{"log level", "log-level", "TRACE"},
		{"bind address", "bind-address", "not-an-ip"},
		{"api server", "api-server", "nohost"},
		{"negative timeout", "speedreader.rewrite-timeout", "-1s"},
		{"negative workers", "speedreader.workers", -2},
		{"theme", "speedreader.theme", "neon"},
		{"font family", "speedreader.font-family", "comic"},
		{"column width", "speedreader.column-width", "huge"},
		{"bad duration", "speedreader.cache-ttl", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.Set(tt.key, tt.value)

			if _, err := BuildConfigFromViper(); err == nil {
				t.Fatalf("expected error for %s=%v, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestValidPortBoundaries(t *testing.T) {
	for _, port := range []int{1, 65535} {
		resetViper(t)
		viper.Set("port", port)

		cfg, err := BuildConfigFromViper()
		if err != nil {
			t.Fatalf("unexpected error for port %d: %v", port, err)
		}
		if cfg.Port != port {
			t.Errorf("Port = %d, want %d", cfg.Port, port)
		}
	}
}

func TestViperSetOverridesConfigFile(t *testing.T) {
	resetViper(t)

	loadConfigFile(t, writeConfigFile(t, "port: 3128\nlog-level: warn\n"))
	viper.Set("port", 7070)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070 (CLI override)", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %v, want warn (from file)", cfg.LogLevel)
	}
}

func TestEnvVarOverridesDefault(t *testing.T) {
	resetViper(t)

	_ = viper.BindEnv("port", "SPEEDREADER_PORT")
	_ = viper.BindEnv("speedreader.heuristics-fallback", "SPEEDREADER_HEURISTICS_FALLBACK")

	t.Setenv("SPEEDREADER_PORT", "3333")
	t.Setenv("SPEEDREADER_HEURISTICS_FALLBACK", "true")

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 3333 {
		t.Errorf("Port = %d, want 3333 (from env)", cfg.Port)
	}
	if !cfg.SpeedReader.HeuristicsFallback {
		t.Error("HeuristicsFallback should be true (from env)")
	}
}

func TestTemplateConfigRoundTrip(t *testing.T) {
	tmpl, err := GenerateTemplateConfig(false)
	if err != nil {
		t.Fatalf("GenerateTemplateConfig: %v", err)
	}
	data, err := yaml.Marshal(&tmpl)
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}

	resetViper(t)
	loadConfigFile(t, writeConfigFile(t, string(data)))
	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("template config does not validate: %v", err)
	}
	if cfg.APIServer != tmpl.APIServer {
		t.Errorf("APIServer = %v, want %v", cfg.APIServer, tmpl.APIServer)
	}
	if cfg.SpeedReader != tmpl.SpeedReader {
		t.Errorf("SpeedReader = %+v, want %+v", cfg.SpeedReader, tmpl.SpeedReader)
	}
}

func TestGenerateTemplateConfigWritesFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if _, err := GenerateTemplateConfig(true); err != nil {
		t.Fatalf("GenerateTemplateConfig: %v", err)
	}
	if _, err := os.Stat(templateFile); err != nil {
		t.Fatalf("template not written: %v", err)
	}
}

func TestLogValue(t *testing.T) {
	resetViper(t)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val := cfg.LogValue()
	if val.Kind() != slog.KindGroup {
		t.Errorf("LogValue().Kind() = %v, want Group", val.Kind())
	}
}

func TestUnmarshalDirectly(t *testing.T) {
	// the struct tags must match the viper keys
	resetViper(t)

	viper.Set("bind-address", "192.168.1.1")
	viper.Set("port", 2222)
	viper.Set("speedreader.max-body-size", 1024)
	viper.Set("whitelist.file", "wl.bin")

	var cfg Config
	err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cfg.BindAddress != "192.168.1.1" {
		t.Errorf("BindAddress = %v, want 192.168.1.1", cfg.BindAddress)
	}
	if cfg.Port != 2222 {
		t.Errorf("Port = %d, want 2222", cfg.Port)
	}
	if cfg.SpeedReader.MaxBodySize != 1024 {
		t.Errorf("MaxBodySize = %d, want 1024", cfg.SpeedReader.MaxBodySize)
	}
	if cfg.Whitelist.File != "wl.bin" {
		t.Errorf("Whitelist.File = %v, want wl.bin", cfg.Whitelist.File)
	}
}
