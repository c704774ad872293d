//go:build !linux

package daemon

import "errors"

var errUnsupported = errors.New("not supported on this platform")

func SetOOMScoreAdj(score int) error {
	return errUnsupported
}

func RaiseFileLimit() (uint64, error) {
	return 0, errUnsupported
}
