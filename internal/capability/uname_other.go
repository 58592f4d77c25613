//go:build !linux && !darwin

package capability

import "errors"

func uname() (sysname, release, machine string, err error) {
	return "", "", "", errors.New("uname not supported on this platform")
}
