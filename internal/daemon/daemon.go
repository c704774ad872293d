// Package daemon prepares the process for long-running proxy duty.
package daemon

import (
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"strings"

	"github.com/sunbk201/speedreader/internal/config"
)

// openWrtOOMScore keeps the proxy alive on memory-starved routers.
const openWrtOOMScore = -900

func DaemonSetup(cfg *config.Config) error {
	if IsOpenWrt() {
		if err := SetOOMScoreAdj(openWrtOOMScore); err != nil {
			slog.Warn("SetOOMScoreAdj", slog.Any("error", err))
		}
	}
	// every proxied exchange holds two sockets, a tunnel two more
	limit, err := RaiseFileLimit()
	if err != nil {
		slog.Warn("RaiseFileLimit", slog.Any("error", err))
	} else {
		slog.Debug("File descriptor limit", slog.Uint64("limit", limit), slog.String("listen", cfg.ListenAddr))
	}
	return nil
}

func IsOpenWrt() bool {
	checkFiles := []string{
		"/etc/openwrt_release",
	}
	for _, f := range checkFiles {
		if _, err := os.Stat(f); err == nil {
			return true
		}
	}

	data, err := os.ReadFile("/etc/os-release")
	if err == nil && strings.Contains(string(data), "OpenWrt") {
		return true
	}

	if _, err := user.Lookup("uci"); err == nil {
		return true
	}

	if _, err := exec.LookPath("opkg"); err == nil {
		return true
	}

	return false
}
