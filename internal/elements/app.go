package elements

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("app source queue full")

const appSourceIdle = 50 * time.Millisecond

// NeedDataFunc is asked for more data when an AppSource runs dry. length
// is a size hint; returning an error stops further requests.
type NeedDataFunc func(ctx context.Context, length int) error

// AppSource feeds application-supplied buffers into a pipeline. While
// Playing, a streaming goroutine drains the queue and asks need-data
// listeners for more whenever it is empty.
type AppSource struct {
	*pipeline.Element

	src    *pipeline.Port
	logger *zap.Logger

	mu       sync.Mutex
	queue    []*pipeline.Buffer
	eos      bool
	needData []NeedDataFunc
	wake     chan struct{}

	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

func NewAppSource(name string, logger *zap.Logger) *AppSource {
	a := &AppSource{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	a.Element = pipeline.NewElement(a, "app-source", name)

	a.src = pipeline.NewPort("src", pipeline.DirectionOutput, pipeline.CapsAny)
	_ = a.AddPort(a.src)

	a.InstallProperty(pipeline.PropertySpec{
		Name:        "caps",
		Kind:        pipeline.PropertyString,
		Default:     string(pipeline.CapsAny),
		Description: "Format of the pushed buffers",
	}, func(v any) error {
		a.src.SetCaps(pipeline.Caps(v.(string)))
		return nil
	})
	a.InstallProperty(pipeline.PropertySpec{
		Name:        "format",
		Kind:        pipeline.PropertyString,
		Default:     "time",
		Description: "Unit of buffer timestamps",
	}, func(v any) error {
		if v.(string) != "time" {
			return errors.New("only time format is supported")
		}
		return nil
	})
	a.InstallProperty(pipeline.PropertySpec{
		Name:        "is-live",
		Kind:        pipeline.PropertyBool,
		Default:     true,
		Description: "Source produces data in real time",
	}, nil)
	a.InstallProperty(pipeline.PropertySpec{
		Name:        "sync",
		Kind:        pipeline.PropertyBool,
		Default:     true,
		Description: "Release buffers at their presentation time",
	}, nil)
	a.InstallProperty(pipeline.PropertySpec{
		Name:        "max-buffers",
		Kind:        pipeline.PropertyInt,
		Default:     16,
		Min:         1,
		Max:         4096,
		Description: "Buffers queued before PushBuffer refuses more",
	}, nil)
	return a
}

// OnNeedData registers a listener called when the queue runs empty.
func (a *AppSource) OnNeedData(f NeedDataFunc) {
	a.mu.Lock()
	a.needData = append(a.needData, f)
	a.mu.Unlock()
}

// PushBuffer queues buf for the streaming goroutine.
func (a *AppSource) PushBuffer(buf *pipeline.Buffer) error {
	if !a.src.IsActive() {
		return pipeline.ErrFlushing
	}

	a.mu.Lock()
	if a.eos {
		a.mu.Unlock()
		return pipeline.ErrEOS
	}
	if len(a.queue) >= a.IntProperty("max-buffers") {
		a.mu.Unlock()
		return ErrQueueFull
	}
	a.queue = append(a.queue, buf)
	a.mu.Unlock()

	a.signal()
	return nil
}

// EndOfStream marks the stream finished. Queued buffers are still sent
// before the end-of-stream event.
func (a *AppSource) EndOfStream() error {
	a.mu.Lock()
	if a.eos {
		a.mu.Unlock()
		return nil
	}
	a.eos = true
	running := a.running
	a.mu.Unlock()

	if running {
		a.signal()
		return nil
	}
	return forwardEvent(a.src, pipeline.EventEOS)
}

func (a *AppSource) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *AppSource) ChangeState(ctx context.Context, t pipeline.Transition) error {
	switch t {
	case pipeline.PausedToPlaying:
		if err := a.Element.ChangeState(ctx, t); err != nil {
			return err
		}
		a.start()
		return nil
	case pipeline.PlayingToPaused:
		a.stop()
	case pipeline.PausedToReady:
		a.mu.Lock()
		a.queue = nil
		a.eos = false
		a.mu.Unlock()
	}
	return a.Element.ChangeState(ctx, t)
}

func (a *AppSource) start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.stopChan = make(chan struct{})
	a.running = true
	a.wg.Add(1)

	go a.loop(ctx, a.stopChan)
}

func (a *AppSource) stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.cancel()
	close(a.stopChan)
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *AppSource) pop() (*pipeline.Buffer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.queue) == 0 {
		return nil, a.eos
	}
	buf := a.queue[0]
	a.queue = a.queue[1:]
	return buf, false
}

func (a *AppSource) requestData(ctx context.Context) error {
	a.mu.Lock()
	listeners := make([]NeedDataFunc, len(a.needData))
	copy(listeners, a.needData)
	a.mu.Unlock()

	for _, f := range listeners {
		if err := f(ctx, 0); err != nil {
			return err
		}
	}
	return nil
}

func (a *AppSource) loop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()

	var (
		started = time.Now()
		basePTS time.Duration
		first   = true
		asking  = true
	)

	for {
		select {
		case <-stop:
			return
		default:
		}

		buf, eos := a.pop()
		if buf == nil && !eos && asking {
			if err := a.requestData(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Warn("Need-data listener failed, no further requests",
					zap.String("node", a.Name()), zap.Error(err))
				a.PostMessage(pipeline.Message{Type: pipeline.MessageWarning, Data: err.Error(), Err: err})
				asking = false
			}
			buf, eos = a.pop()
		}

		if buf == nil {
			if eos {
				if err := forwardEvent(a.src, pipeline.EventEOS); err != nil {
					a.logger.Debug("End-of-stream not delivered", zap.String("node", a.Name()), zap.Error(err))
				}
				return
			}
			select {
			case <-stop:
				return
			case <-a.wake:
			case <-time.After(appSourceIdle):
			}
			continue
		}

		if a.BoolProperty("sync") {
			if first {
				basePTS = buf.PTS
				first = false
			}
			if wait := time.Until(started.Add(buf.PTS - basePTS)); wait > 0 {
				select {
				case <-stop:
					return
				case <-time.After(wait):
				}
			}
		}

		err := a.src.Push(buf)
		switch {
		case err == nil:
		case errors.Is(err, pipeline.ErrFlushing):
			return
		case errors.Is(err, pipeline.ErrNotLinked):
			a.logger.Debug("App source output not linked", zap.String("node", a.Name()))
		default:
			a.logger.Warn("App source push failed", zap.String("node", a.Name()), zap.Error(err))
		}
	}
}

// Queued returns the number of buffers waiting to be sent.
func (a *AppSource) Queued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// AppSink collects buffers for the application.
type AppSink struct {
	*pipeline.Element

	sink   *pipeline.Port
	logger *zap.Logger

	mu        sync.Mutex
	buffers   []*pipeline.Buffer
	bytes     int
	eos       bool
	eosCh     chan struct{}
	listeners []func(*pipeline.Buffer)
}

func NewAppSink(name string, logger *zap.Logger) *AppSink {
	s := &AppSink{
		logger: logger,
		eosCh:  make(chan struct{}),
	}
	s.Element = pipeline.NewElement(s, "app-sink", name)

	s.sink = pipeline.NewPort("sink", pipeline.DirectionInput, pipeline.CapsAny)
	s.sink.SetChainFunc(s.chain)
	s.sink.SetEventFunc(s.event)
	_ = s.AddPort(s.sink)

	s.InstallProperty(pipeline.PropertySpec{
		Name:        "caps",
		Kind:        pipeline.PropertyString,
		Default:     string(pipeline.CapsAny),
		Description: "Accepted format",
	}, func(v any) error {
		s.sink.SetCaps(pipeline.Caps(v.(string)))
		return nil
	})
	s.InstallProperty(pipeline.PropertySpec{
		Name:        "max-buffers",
		Kind:        pipeline.PropertyInt,
		Default:     0,
		Min:         0,
		Max:         1 << 20,
		Description: "Buffers retained (0 keeps all)",
	}, nil)
	return s
}

// OnNewBuffer registers a listener called for every received buffer.
func (s *AppSink) OnNewBuffer(f func(*pipeline.Buffer)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, f)
	s.mu.Unlock()
}

func (s *AppSink) chain(_ *pipeline.Port, buf *pipeline.Buffer) error {
	kept := buf.Copy()
	limit := s.IntProperty("max-buffers")

	s.mu.Lock()
	s.buffers = append(s.buffers, kept)
	s.bytes += kept.Len()
	if limit > 0 && len(s.buffers) > limit {
		s.buffers = s.buffers[len(s.buffers)-limit:]
	}
	listeners := make([]func(*pipeline.Buffer), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, f := range listeners {
		f(kept)
	}
	return nil
}

func (s *AppSink) event(_ *pipeline.Port, ev pipeline.Event) error {
	if ev != pipeline.EventEOS {
		return nil
	}

	s.mu.Lock()
	already := s.eos
	s.eos = true
	if !already {
		close(s.eosCh)
	}
	s.mu.Unlock()

	if !already {
		s.logger.Debug("App sink reached end of stream", zap.String("node", s.Name()))
		s.PostMessage(pipeline.Message{Type: pipeline.MessageEOS})
	}
	return nil
}

// Buffers returns a snapshot of the retained buffers.
func (s *AppSink) Buffers() []*pipeline.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*pipeline.Buffer, len(s.buffers))
	copy(out, s.buffers)
	return out
}

func (s *AppSink) BufferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Bytes returns the total payload received, including dropped buffers.
func (s *AppSink) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *AppSink) IsEOS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

// Done is closed when end-of-stream arrives.
func (s *AppSink) Done() <-chan struct{} {
	return s.eosCh
}
