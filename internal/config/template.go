package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

const templateFile = "config.yaml"

func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	cfg := Config{
		BindAddress: "127.0.0.1",
		Port:        8080,
		SOCKS5Port:  1080,

		LogLevel: "info",

		APIServer: "127.0.0.1:9090",

		Whitelist: WhitelistConfig{
			File:  "",
			Watch: true,
		},

		SpeedReader: SpeedReaderConfig{
			HeuristicsFallback: false,
			RewriteTimeout:     5 * time.Second,
			MaxBodySize:        8 << 20,
			MinOutputLength:    0,
			Workers:            0,
			PipeCapacity:       64 << 10,
			CacheSize:          1024,
			CacheTTL:           10 * time.Minute,
			Theme:              "light",
			FontFamily:         "sans",
			FontSize:           "100%",
			ColumnWidth:        "medium",
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile(templateFile, data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
