//go:build !linux

package storage

import "errors"

var errNoStatfs = errors.New("free space reporting unsupported on this platform")

func freeBytes(path string) (uint64, error) {
	return 0, errNoStatfs
}
