package log

import (
	"log/slog"
	"os"
	"runtime"
)

// hostAttrs describes the machine rewrites run on. GOMAXPROCS is the default
// worker pool size.
func hostAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("os", runtime.GOOS+"/"+runtime.GOARCH),
		slog.String("go", runtime.Version()),
		slog.Int("cpus", runtime.NumCPU()),
		slog.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	return append(attrs, platformAttrs()...)
}
