package serial

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultDescriptor = "/dev/pts/19,9600,8n1"
	DefaultSpeed      = 9600
)

// SupportedSpeeds lists the baud rates a device can be configured with.
// Anything else falls back to DefaultSpeed.
var SupportedSpeeds = []int{50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

var ErrEmptyPath = errors.New("serial: device path is empty")

// Descriptor is a parsed "<path>,<speed>,<data><parity><stop>" string such
// as "/dev/ttyUSB0,115200,8n1".
type Descriptor struct {
	Path     string `json:"path"`
	Speed    int    `json:"speed"`
	DataBits int    `json:"data_bits"`
	Parity   Parity `json:"parity"`
	StopBits int    `json:"stop_bits"`
}

// ParseDescriptor parses s. Only the path is mandatory; missing or invalid
// line settings take their defaults.
func ParseDescriptor(s string) (Descriptor, error) {
	d := Descriptor{
		Speed:    DefaultSpeed,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 1,
	}

	parts := strings.Split(s, ",")
	d.Path = strings.TrimSpace(parts[0])
	if d.Path == "" {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrEmptyPath, s)
	}

	if len(parts) > 1 {
		speed, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err == nil && slices.Contains(SupportedSpeeds, speed) {
			d.Speed = speed
		}
	}

	if len(parts) > 2 {
		d.applyFormat(strings.TrimSpace(parts[2]))
	}
	return d, nil
}

// applyFormat reads the three-character line format. Each position falls
// back independently: data bits to 8, parity to none, stop bits to 2.
func (d *Descriptor) applyFormat(format string) {
	at := func(i int) byte {
		if i < len(format) {
			return format[i]
		}
		return 0
	}

	switch c := at(0); c {
	case '5', '6', '7', '8':
		d.DataBits = int(c - '0')
	default:
		d.DataBits = 8
	}

	switch at(1) {
	case 'E', 'e':
		d.Parity = ParityEven
	case 'O', 'o':
		d.Parity = ParityOdd
	default:
		d.Parity = ParityNone
	}

	switch at(2) {
	case '1':
		d.StopBits = 1
	case '2':
		d.StopBits = 2
	default:
		d.StopBits = 2
	}
}

func (d Descriptor) Format() string {
	parity := "n"
	switch d.Parity {
	case ParityEven:
		parity = "e"
	case ParityOdd:
		parity = "o"
	}
	return fmt.Sprintf("%d%s%d", d.DataBits, parity, d.StopBits)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s,%d,%s", d.Path, d.Speed, d.Format())
}
