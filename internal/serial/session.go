package serial

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"go.uber.org/zap"
)

// SlotSize is the capacity of the single message slot.
const SlotSize = 255

var defaultMessage = []byte("DEFAULT MESSAGE")

// Session owns an open device and the slot holding its most recent read.
// Each read overwrites the slot; readers of the slot always see one whole
// read, never a mix of two.
type Session struct {
	device  string
	rc      io.ReadCloser
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	slot   [SlotSize]byte
	length int
	reads  uint64

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewSession starts reading from rc in the background.
func NewSession(device string, rc io.ReadCloser, logger *zap.Logger, m *metrics.Metrics) *Session {
	s := &Session{
		device:  device,
		rc:      rc,
		logger:  logger,
		metrics: m,
		closed:  make(chan struct{}),
	}
	s.length = copy(s.slot[:], defaultMessage)

	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, SlotSize)
	for {
		n, err := s.rc.Read(buf)
		if n > 0 {
			s.store(buf[:n])
			s.metrics.AddSerialBytes(s.device, n)
		}
		if err != nil {
			select {
			case <-s.closed:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					s.logger.Warn("Serial read stopped", zap.String("device", s.device), zap.Error(err))
				}
			}
			return
		}
	}
}

func (s *Session) store(p []byte) {
	s.mu.Lock()
	s.length = copy(s.slot[:], p)
	s.reads++
	s.mu.Unlock()

	s.logger.Debug("Serial data received",
		zap.String("device", s.device),
		zap.Int("bytes", len(p)))
}

// CopySlot copies the current slot contents into dst and returns the number
// of bytes copied.
func (s *Session) CopySlot(dst []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copy(dst, s.slot[:s.length])
}

// Reads returns how many reads have landed in the slot.
func (s *Session) Reads() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Session) Device() string {
	return s.device
}

// Close closes the device and waits for the reader to exit. The slot stays
// readable afterwards.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.rc.Close()
		s.wg.Wait()
		s.logger.Info("Serial device closed", zap.String("device", s.device))
	})
	return err
}
