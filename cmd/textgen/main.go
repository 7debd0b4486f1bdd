// Command textgen writes numbered text lines to a serial device, one per
// interval. It feeds the serialtextsrc composite during testing.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("textgen", pflag.ExitOnError)
	device := fs.StringP("device", "d", serial.DefaultDescriptor, "Serial descriptor <path>,<speed>,<data><parity><stop>")
	interval := fs.DurationP("interval", "i", time.Second, "Delay between messages")
	count := fs.IntP("count", "n", 0, "Number of messages to write, 0 for no limit")
	prefix := fs.String("prefix", "TEST", "Text written before the sequence number")
	fs.Parse(os.Args[1:])

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	d, err := serial.ParseDescriptor(*device)
	if err != nil {
		logger.Fatal("Invalid device descriptor", zap.String("device", *device), zap.Error(err))
	}

	f, err := serial.OpenDevice(d)
	if err != nil {
		logger.Fatal("Failed to open device", zap.String("device", d.Path), zap.Error(err))
	}
	defer f.Close()

	logger.Info("Writing messages",
		zap.String("device", d.Path),
		zap.Int("speed", d.Speed),
		zap.String("format", d.Format()),
		zap.Duration("interval", *interval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	written, err := generate(ctx, f, *prefix, *interval, *count)
	if err != nil {
		logger.Error("Write failed", zap.Int("written", written), zap.Error(err))
		return
	}
	logger.Info("Done", zap.Int("written", written))
}

// generate writes "<prefix> <n>" for n = 1, 2, ... every interval until
// count messages are written or ctx is done. The first message is written
// immediately.
func generate(ctx context.Context, w io.Writer, prefix string, interval time.Duration, count int) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	written := 0
	for count == 0 || written < count {
		if _, err := fmt.Fprintf(w, "%s %d", prefix, written+1); err != nil {
			return written, err
		}
		written++
		if count != 0 && written == count {
			break
		}

		select {
		case <-ctx.Done():
			return written, nil
		case <-ticker.C:
		}
	}
	return written, nil
}
