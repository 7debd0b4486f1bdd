package serial

import (
	"context"
	"os"
	"os/signal"
)

// EndOfStreamer is anything that can end its stream on request.
type EndOfStreamer interface {
	EndOfStream() error
}

// NotifyEndOfStream calls target.EndOfStream when one of sigs arrives. It
// returns after the first signal or when ctx is done.
func NotifyEndOfStream(ctx context.Context, target EndOfStreamer, sigs ...os.Signal) <-chan error {
	result := make(chan error, 1)
	if len(sigs) == 0 {
		close(result)
		return result
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		defer close(result)
		defer signal.Stop(ch)

		select {
		case <-ch:
			result <- target.EndOfStream()
		case <-ctx.Done():
		}
	}()
	return result
}
