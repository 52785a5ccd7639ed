//go:build !(linux || darwin || freebsd)

package tools

import "errors"

func diskUsage(string) (free, total uint64, err error) {
	return 0, 0, errors.New("disk usage not supported on this platform")
}
