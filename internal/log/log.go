package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sunbk201/speedreader/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetLogConf installs the default logger: stdout, the rotating log file and
// any extra writers such as the /logs broadcaster.
func SetLogConf(level string, extra ...io.Writer) {
	rotating := &lumberjack.Logger{
		Filename:   GetLogFilePath(),
		MaxSize:    5, // megabytes
		MaxBackups: 5,
		MaxAge:     7, // days
		LocalTime:  true,
		Compress:   true,
	}
	writers := append([]io.Writer{os.Stdout, rotating}, extra...)
	slog.SetDefault(NewLogger(io.MultiWriter(writers...), ParseLevel(level)))
}

// NewLogger builds the text logger with local wall-clock timestamps.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	loc := LoadLocalLocation()
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				t := a.Value.Time().In(loc)
				return slog.String(slog.TimeKey, t.Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("speedreader started", slog.String("version", version), slog.Any("config", cfg))
	slog.LogAttrs(context.Background(), slog.LevelInfo, "system", hostAttrs()...)
}

// LoadLocalLocation tries to detect and load the system local timezone from
// `/etc/localtime` or `/etc/TZ`. Compatible with OpenWrt and normal Linux.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		tz := strings.TrimSpace(string(data))
		switch {
		case strings.HasPrefix(tz, "CST-8"):
			return time.FixedZone("CST", 8*3600)
		case strings.HasPrefix(tz, "UTC"):
			return time.UTC
		}
	}
	return time.UTC
}
