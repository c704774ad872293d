package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sunbk201/speedreader/internal/api"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/config"
	"github.com/sunbk201/speedreader/internal/daemon"
	"github.com/sunbk201/speedreader/internal/log"
	"github.com/sunbk201/speedreader/internal/metrics"
	proxy "github.com/sunbk201/speedreader/internal/server/http"
	"github.com/sunbk201/speedreader/internal/server/socks5"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/statistics"
	"github.com/sunbk201/speedreader/internal/whitelist"
	"github.com/sunbk201/speedreader/internal/worker"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "speedreader",
	Short: "SpeedReader is a reader-mode HTTP proxy",
	Long:  "SpeedReader is an HTTP proxy that rewrites article pages into a distraction-free reader view, using per-site rules for whitelisted sites and readability heuristics elsewhere.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.Flags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringP("bind", "b", "", "Bind address")
	rootCmd.Flags().IntP("port", "p", 0, "Port")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().StringP("whitelist", "w", "", "Compiled whitelist file (default built-in)")
	rootCmd.Flags().IntP("socks5-port", "s", 0, "SOCKS5 inbound port (default off)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	// Long flags
	rootCmd.Flags().String("api-server", "", "API server address, e.g. 127.0.0.1:9090")
	rootCmd.Flags().String("api-server-secret", "", "API server bearer secret")
	rootCmd.Flags().Bool("whitelist-watch", true, "Reload the whitelist file when it changes")
	rootCmd.Flags().Bool("heuristics-fallback", false, "Rewrite pages the whitelist does not cover")
	rootCmd.Flags().Duration("rewrite-timeout", 0, "Deadline of one rewrite")
	rootCmd.Flags().Int("max-body-size", 0, "Largest body rewritten, in bytes")
	rootCmd.Flags().Int("workers", 0, "Concurrent rewrites (default one per CPU)")
	rootCmd.Flags().String("theme", "", "Reader theme: light, dark, sepia")
	rootCmd.Flags().String("font-family", "", "Reader font: sans, serif, mono, dyslexic")
	rootCmd.Flags().String("font-size", "", "Reader font size, e.g. 110%")
	rootCmd.Flags().String("column-width", "", "Reader column: narrow, medium, wide")

	// Bind all flags to viper using consistent key names
	_ = viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("bind-address", rootCmd.Flags().Lookup("bind"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("whitelist.file", rootCmd.Flags().Lookup("whitelist"))
	_ = viper.BindPFlag("socks5-port", rootCmd.Flags().Lookup("socks5-port"))
	_ = viper.BindPFlag("api-server", rootCmd.Flags().Lookup("api-server"))
	_ = viper.BindPFlag("api-server-secret", rootCmd.Flags().Lookup("api-server-secret"))
	_ = viper.BindPFlag("whitelist.watch", rootCmd.Flags().Lookup("whitelist-watch"))
	_ = viper.BindPFlag("speedreader.heuristics-fallback", rootCmd.Flags().Lookup("heuristics-fallback"))
	_ = viper.BindPFlag("speedreader.rewrite-timeout", rootCmd.Flags().Lookup("rewrite-timeout"))
	_ = viper.BindPFlag("speedreader.max-body-size", rootCmd.Flags().Lookup("max-body-size"))
	_ = viper.BindPFlag("speedreader.workers", rootCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("speedreader.theme", rootCmd.Flags().Lookup("theme"))
	_ = viper.BindPFlag("speedreader.font-family", rootCmd.Flags().Lookup("font-family"))
	_ = viper.BindPFlag("speedreader.font-size", rootCmd.Flags().Lookup("font-size"))
	_ = viper.BindPFlag("speedreader.column-width", rootCmd.Flags().Lookup("column-width"))

	// Bind environment variables
	viper.SetEnvPrefix("SPEEDREADER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// Short names for the settings most often set from the environment
	_ = viper.BindEnv("whitelist.file", "SPEEDREADER_WHITELIST")
	_ = viper.BindEnv("api-server-secret", "SPEEDREADER_API_SECRET")
	_ = viper.BindEnv("speedreader.heuristics-fallback", "SPEEDREADER_HEURISTICS_FALLBACK")
	_ = viper.BindEnv("speedreader.theme", "SPEEDREADER_THEME")
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}
	config.SetDefaults()
}

func runRoot(cmd *cobra.Command, args []string) error {
	// Handle -v / --version
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("SpeedReader version %s\n", AppVersion)
		return nil
	}

	// Handle -g / --generate-config
	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		_, err := config.GenerateTemplateConfig(true)
		if err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Println("Template config file 'config.yaml' generated successfully.")
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logs := log.NewBroadcaster()
	log.SetLogConf(cfg.LogLevel, logs)
	log.LogHeader(AppVersion, cfg)

	if err := daemon.DaemonSetup(cfg); err != nil {
		slog.Error("daemon.DaemonSetup", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	addShutdown("cancel", func() error {
		cancel()
		return nil
	})

	store, err := openWhitelist(ctx, cfg)
	if err != nil {
		slog.Error("openWhitelist", slog.Any("error", err))
		shutdown()
		return err
	}
	sr := speedreader.New(store,
		speedreader.WithEngineOptions(cfg.EngineOptions()),
		speedreader.WithCache(cfg.SpeedReader.CacheSize, cfg.SpeedReader.CacheTTL),
	)

	pool := worker.New(cfg.SpeedReader.Workers, cfg.SpeedReader.RewriteTimeout)
	addShutdown("pool.Close", pool.Close)

	recorder := statistics.New(log.GetStatsFilePath)
	recorder.Run(ctx)

	m := metrics.New()
	m.WatchWhitelist(store)
	m.WatchPool(pool)

	srv := proxy.New(cfg, sr, pool, recorder, m)
	if err := startServer("srv", srv); err != nil {
		return err
	}

	if cfg.SOCKS5ListenAddr != "" {
		if err := startServer("socks", socks5.New(cfg, srv)); err != nil {
			return err
		}
	}

	if cfg.APIServer != "" {
		apiSrv := api.New(cfg.APIServer, AppVersion, cfg, api.Deps{
			SpeedReader: sr,
			Recorder:    recorder,
			Metrics:     m,
			Logs:        logs,
		})
		if err := startServer("apiSrv", apiSrv); err != nil {
			return err
		}
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
			if cfg.Whitelist.File == "" {
				continue
			}
			if err := store.LoadFile(cfg.Whitelist.File); err != nil {
				slog.Warn("Whitelist reload failed", slog.Any("error", err))
			}
		default:
			return nil
		}
	}
}

// openWhitelist loads the configured whitelist file, falling back to the
// built-in whitelist when none is set.
func openWhitelist(ctx context.Context, cfg *config.Config) (*whitelist.Store, error) {
	store := whitelist.NewDefaultStore()
	if cfg.Whitelist.File == "" {
		return store, nil
	}
	if err := store.LoadFile(cfg.Whitelist.File); err != nil {
		return nil, err
	}
	if cfg.Whitelist.Watch {
		if err := store.Watch(ctx, cfg.Whitelist.File); err != nil {
			return nil, fmt.Errorf("store.Watch: %w", err)
		}
	}
	return store, nil
}

// startServer starts srv and registers it for shutdown. On failure
// everything started so far is shut down.
func startServer(name string, srv common.Server) error {
	addShutdown(name+".Close", srv.Close)
	if err := srv.Start(); err != nil {
		slog.Error(name+".Start", slog.Any("error", err))
		shutdown()
		return err
	}
	return nil
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	slog.Info("SpeedReader exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
