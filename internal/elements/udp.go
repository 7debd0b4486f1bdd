package elements

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

const udpReadPoll = 100 * time.Millisecond

// UDPSource receives datagrams and pushes each one as a buffer. The socket
// is bound in Paused so the local port is known before data flows.
type UDPSource struct {
	*pipeline.Element

	src    *pipeline.Port
	logger *zap.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool

	received atomic.Uint64
}

func NewUDPSource(name string, logger *zap.Logger) *UDPSource {
	s := &UDPSource{logger: logger}
	s.Element = pipeline.NewElement(s, "udp-source", name)

	s.src = pipeline.NewPort("src", pipeline.DirectionOutput, pipeline.CapsAny)
	_ = s.AddPort(s.src)

	s.InstallProperty(pipeline.PropertySpec{
		Name:        "port",
		Kind:        pipeline.PropertyInt,
		Default:     5000,
		Min:         0,
		Max:         65535,
		Description: "UDP port to listen on (0 picks a free port)",
	}, nil)
	s.InstallProperty(pipeline.PropertySpec{
		Name:        "address",
		Kind:        pipeline.PropertyString,
		Default:     "0.0.0.0",
		Description: "Local address to bind",
	}, nil)
	s.InstallProperty(pipeline.PropertySpec{
		Name:        "buffer-size",
		Kind:        pipeline.PropertyInt,
		Default:     65536,
		Min:         512,
		Max:         65536,
		Description: "Maximum datagram size",
	}, nil)
	return s
}

func (s *UDPSource) ChangeState(ctx context.Context, t pipeline.Transition) error {
	switch t {
	case pipeline.ReadyToPaused:
		if err := s.open(); err != nil {
			return err
		}
	case pipeline.PausedToPlaying:
		if err := s.Element.ChangeState(ctx, t); err != nil {
			return err
		}
		s.start()
		return nil
	case pipeline.PlayingToPaused:
		s.stop()
	case pipeline.PausedToReady:
		if err := s.Element.ChangeState(ctx, t); err != nil {
			return err
		}
		return s.close()
	}
	return s.Element.ChangeState(ctx, t)
}

func (s *UDPSource) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(s.StringProperty("address"), strconv.Itoa(s.IntProperty("port")))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("%s: resolve %s: %w", s.Name(), addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", s.Name(), addr, err)
	}
	s.conn = conn

	s.logger.Info("UDP source listening",
		zap.String("node", s.Name()),
		zap.String("addr", conn.LocalAddr().String()))
	return nil
}

func (s *UDPSource) close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *UDPSource) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.conn == nil {
		return
	}
	s.stopChan = make(chan struct{})
	s.running = true
	s.wg.Add(1)

	go s.readLoop(s.conn, s.stopChan, s.IntProperty("buffer-size"))
}

func (s *UDPSource) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		_ = s.conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *UDPSource) readLoop(conn *net.UDPConn, stop <-chan struct{}, size int) {
	defer s.wg.Done()

	buf := make([]byte, size)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(udpReadPoll))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("UDP read failed", zap.String("node", s.Name()), zap.Error(err))
			continue
		}

		s.received.Add(uint64(n))
		data := make([]byte, n)
		copy(data, buf[:n])

		if err := s.src.Push(pipeline.NewBuffer(data)); err != nil && !errors.Is(err, pipeline.ErrNotLinked) {
			s.logger.Debug("UDP source push failed", zap.String("node", s.Name()), zap.Error(err))
		}
	}
}

// BoundPort returns the local port of the open socket, or the configured
// port when the socket is closed.
func (s *UDPSource) BoundPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if addr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.Port
		}
	}
	return s.IntProperty("port")
}

func (s *UDPSource) BytesReceived() uint64 {
	return s.received.Load()
}

// UDPSink writes every received buffer as one datagram.
type UDPSink struct {
	*pipeline.Element

	sink   *pipeline.Port
	logger *zap.Logger

	mu   sync.Mutex
	conn *net.UDPConn

	sent      atomic.Uint64
	datagrams atomic.Uint64
}

func NewUDPSink(name string, logger *zap.Logger) *UDPSink {
	s := &UDPSink{logger: logger}
	s.Element = pipeline.NewElement(s, "udp-sink", name)

	s.sink = pipeline.NewPort("sink", pipeline.DirectionInput, pipeline.CapsAny)
	s.sink.SetChainFunc(s.chain)
	s.sink.SetEventFunc(func(_ *pipeline.Port, ev pipeline.Event) error {
		if ev == pipeline.EventEOS {
			s.PostMessage(pipeline.Message{Type: pipeline.MessageEOS})
		}
		return nil
	})
	_ = s.AddPort(s.sink)

	s.InstallProperty(pipeline.PropertySpec{
		Name:        "host",
		Kind:        pipeline.PropertyString,
		Default:     "127.0.0.1",
		Description: "Destination host",
	}, nil)
	s.InstallProperty(pipeline.PropertySpec{
		Name:        "port",
		Kind:        pipeline.PropertyInt,
		Default:     5000,
		Min:         0,
		Max:         65535,
		Description: "Destination UDP port",
	}, nil)
	return s
}

func (s *UDPSink) ChangeState(ctx context.Context, t pipeline.Transition) error {
	switch t {
	case pipeline.ReadyToPaused:
		if err := s.dial(); err != nil {
			return err
		}
	case pipeline.PausedToReady:
		if err := s.Element.ChangeState(ctx, t); err != nil {
			return err
		}
		return s.close()
	}
	return s.Element.ChangeState(ctx, t)
}

func (s *UDPSink) dial() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(s.StringProperty("host"), strconv.Itoa(s.IntProperty("port")))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("%s: resolve %s: %w", s.Name(), addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("%s: dial %s: %w", s.Name(), addr, err)
	}
	s.conn = conn

	s.logger.Info("UDP sink connected", zap.String("node", s.Name()), zap.String("addr", addr))
	return nil
}

func (s *UDPSink) close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *UDPSink) chain(_ *pipeline.Port, buf *pipeline.Buffer) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return pipeline.ErrFlushing
	}
	n, err := conn.Write(buf.Data)
	if errors.Is(err, syscall.ECONNREFUSED) {
		// Nobody listening yet; the datagram is lost like any other.
		s.logger.Debug("UDP sink peer refused datagram", zap.String("node", s.Name()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: write: %w", s.Name(), err)
	}
	s.sent.Add(uint64(n))
	s.datagrams.Add(1)
	return nil
}

func (s *UDPSink) BytesSent() uint64 {
	return s.sent.Load()
}

func (s *UDPSink) Datagrams() uint64 {
	return s.datagrams.Load()
}
