//go:build !linux

package serial

import (
	"errors"
	"os"
	"runtime"
)

// OpenDevice is only implemented for Linux terminals.
func OpenDevice(d Descriptor) (*os.File, error) {
	return nil, errors.New("serial: devices are not supported on " + runtime.GOOS)
}
