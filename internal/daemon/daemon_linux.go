//go:build linux

package daemon

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

func SetOOMScoreAdj(score int) error {
	if err := os.WriteFile("/proc/self/oom_score_adj", []byte(strconv.Itoa(score)), 0o644); err != nil {
		return fmt.Errorf("os.WriteFile: %w", err)
	}
	return nil
}

// RaiseFileLimit lifts the soft open file limit to the hard limit and
// returns the new soft limit.
func RaiseFileLimit() (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("unix.Getrlimit: %w", err)
	}
	if rl.Cur >= rl.Max {
		return rl.Cur, nil
	}
	rl.Cur = rl.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("unix.Setrlimit: %w", err)
	}
	return rl.Cur, nil
}
