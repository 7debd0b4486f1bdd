package serial

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

const (
	DefaultUnitSize     = 32
	DefaultUnitDuration = 500 * time.Millisecond
)

// Publisher accepts the units produced by a Bridge.
type Publisher interface {
	PushBuffer(buf *pipeline.Buffer) error
	EndOfStream() error
}

// Bridge turns the session slot into a timed stream of fixed-size units.
// It is driven by the publisher's need-data requests.
type Bridge struct {
	composite string
	pub       Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	unitSize     int
	unitDuration time.Duration

	mu      sync.Mutex
	session *Session
	pts     time.Duration
}

type BridgeOption func(*Bridge)

func WithUnitSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.unitSize = n
		}
	}
}

func WithUnitDuration(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.unitDuration = d
		}
	}
}

func NewBridge(composite string, pub Publisher, logger *zap.Logger, m *metrics.Metrics, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		composite:    composite,
		pub:          pub,
		logger:       logger,
		metrics:      m,
		unitSize:     DefaultUnitSize,
		unitDuration: DefaultUnitDuration,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetSession replaces the active session, closing the previous one.
func (b *Bridge) SetSession(s *Session) error {
	b.mu.Lock()
	old := b.session
	b.session = s
	b.mu.Unlock()

	if old != nil && old != s {
		return old.Close()
	}
	return nil
}

func (b *Bridge) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// NeedData publishes one unit built from the current slot. The timestamp
// advances whether or not the publisher accepts the unit. Until a device is
// configured there is nothing to publish and the request is a no-op.
func (b *Bridge) NeedData(ctx context.Context, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	session := b.session
	if session == nil {
		b.mu.Unlock()
		return nil
	}
	pts := b.pts
	b.pts += b.unitDuration
	b.mu.Unlock()

	unit := make([]byte, b.unitSize)
	session.CopySlot(unit)

	err := b.pub.PushBuffer(&pipeline.Buffer{
		Data:     unit,
		PTS:      pts,
		Duration: b.unitDuration,
	})
	if err != nil {
		b.logger.Warn("Serial unit rejected",
			zap.String("composite", b.composite),
			zap.Duration("pts", pts),
			zap.Error(err))
		b.metrics.IncPublishFailure(b.composite)
		return err
	}

	b.metrics.IncUnitPublished(b.composite)
	return nil
}

// NextPTS returns the timestamp the next unit will carry.
func (b *Bridge) NextPTS() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pts
}

// EndOfStream closes the device and signals end-of-stream downstream. The
// bridge and its publisher stay in place.
func (b *Bridge) EndOfStream() error {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.mu.Unlock()

	var closeErr error
	if session != nil {
		closeErr = session.Close()
	}
	b.logger.Info("Serial stream ended", zap.String("composite", b.composite))

	if err := b.pub.EndOfStream(); err != nil {
		return err
	}
	return closeErr
}
