package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Descriptor
	}{
		{
			name:     "default",
			input:    DefaultDescriptor,
			expected: Descriptor{Path: "/dev/pts/19", Speed: 9600, DataBits: 8, Parity: ParityNone, StopBits: 1},
		},
		{
			name:     "even parity two stop bits",
			input:    "/dev/ttyUSB0,115200,7E2",
			expected: Descriptor{Path: "/dev/ttyUSB0", Speed: 115200, DataBits: 7, Parity: ParityEven, StopBits: 2},
		},
		{
			name:     "odd parity lower case",
			input:    "/dev/ttyS1,19200,5o1",
			expected: Descriptor{Path: "/dev/ttyS1", Speed: 19200, DataBits: 5, Parity: ParityOdd, StopBits: 1},
		},
		{
			name:     "unsupported speed falls back",
			input:    "/dev/ttyS1,12345,8n1",
			expected: Descriptor{Path: "/dev/ttyS1", Speed: 9600, DataBits: 8, Parity: ParityNone, StopBits: 1},
		},
		{
			name:     "non numeric speed falls back",
			input:    "/dev/ttyS1,fast,8n1",
			expected: Descriptor{Path: "/dev/ttyS1", Speed: 9600, DataBits: 8, Parity: ParityNone, StopBits: 1},
		},
		{
			name:     "invalid format characters",
			input:    "/dev/ttyS1,4800,9x3",
			expected: Descriptor{Path: "/dev/ttyS1", Speed: 4800, DataBits: 8, Parity: ParityNone, StopBits: 2},
		},
		{
			name:     "short format",
			input:    "/dev/ttyS1,4800,6",
			expected: Descriptor{Path: "/dev/ttyS1", Speed: 4800, DataBits: 6, Parity: ParityNone, StopBits: 2},
		},
		{
			name:     "path only",
			input:    "/dev/ttyACM0",
			expected: Descriptor{Path: "/dev/ttyACM0", Speed: 9600, DataBits: 8, Parity: ParityNone, StopBits: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDescriptor(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestParseDescriptor_EmptyPath(t *testing.T) {
	for _, input := range []string{"", ",9600,8n1", "  ,9600"} {
		_, err := ParseDescriptor(input)
		assert.ErrorIs(t, err, ErrEmptyPath, input)
	}
}

func TestDescriptor_String(t *testing.T) {
	d, err := ParseDescriptor("/dev/ttyS0,38400,7o2")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS0,38400,7o2", d.String())
	assert.Equal(t, "7o2", d.Format())
}
