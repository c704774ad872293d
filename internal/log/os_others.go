//go:build !unix

package log

import "log/slog"

func platformAttrs() []slog.Attr {
	return nil
}
