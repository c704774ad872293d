package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appName = "speedreader"

var (
	logDir     string
	logDirOnce sync.Once
)

// GetLogDir returns the platform-specific log directory, creating it when
// missing:
// - Linux: /var/log/speedreader/ when writable
// - otherwise: ~/.speedreader/
// - fallback: temp directory
func GetLogDir() string {
	logDirOnce.Do(func() {
		logDir = determineLogDir()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			logDir = filepath.Join(os.TempDir(), appName)
			_ = os.MkdirAll(logDir, 0755)
		}
	})
	return logDir
}

func determineLogDir() string {
	if runtime.GOOS == "linux" {
		varLogDir := filepath.Join("/var/log", appName)
		if writable(varLogDir) {
			return varLogDir
		}
	}
	return getUserLogDir()
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}

func getUserLogDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userLogDir := filepath.Join(homeDir, "."+appName)
		if err := os.MkdirAll(userLogDir, 0755); err == nil {
			return userLogDir
		}
	}
	return filepath.Join(os.TempDir(), appName)
}

// GetLogFilePath returns the full path to the main log file.
func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), appName+".log")
}

// GetStatsFilePath returns the full path to a stats file.
func GetStatsFilePath(name string) string {
	return filepath.Join(GetLogDir(), name)
}
