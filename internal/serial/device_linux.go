//go:build linux

package serial

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

var dataBits = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}

// OpenDevice opens the terminal named by d and applies its line settings.
// The returned file is non-blocking and integrates with the runtime poller,
// so Close unblocks a pending Read.
func OpenDevice(d Descriptor) (*os.File, error) {
	fd, err := unix.Open(d.Path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}

	if err := configure(fd, d); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("configure %s: %w", d.Path, err)
	}
	return os.NewFile(uintptr(fd), d.Path), nil
}

func configure(fd int, d Descriptor) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	speed, ok := baudRates[d.Speed]
	if !ok {
		speed = unix.B9600
	}
	size, ok := dataBits[d.DataBits]
	if !ok {
		size = unix.CS8
	}

	t.Cflag &^= unix.CBAUD | unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= speed | size | unix.CLOCAL | unix.CREAD
	t.Ispeed = speed
	t.Ospeed = speed

	switch d.Parity {
	case ParityEven:
		t.Cflag |= unix.PARENB
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	}
	if d.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	t.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return err
	}
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
