//go:build unix

package log

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// platformAttrs reports the kernel and the open file limit, which bounds how
// many proxied connections can be held.
func platformAttrs() []slog.Attr {
	var attrs []slog.Attr
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		attrs = append(attrs,
			slog.String("kernel", unix.ByteSliceToString(uname.Sysname[:])+" "+unix.ByteSliceToString(uname.Release[:])),
			slog.String("machine", unix.ByteSliceToString(uname.Machine[:])),
		)
	}
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err == nil {
		attrs = append(attrs, slog.Uint64("nofile", uint64(rlim.Cur)))
	}
	return attrs
}
