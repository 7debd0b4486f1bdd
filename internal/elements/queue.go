package elements

import (
	"context"
	"errors"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

type queueItem struct {
	buf   *pipeline.Buffer
	event pipeline.Event
}

// Queue decouples its input from its output with a bounded channel and a
// streaming goroutine that runs between Paused and Ready.
type Queue struct {
	*pipeline.Element

	sink   *pipeline.Port
	src    *pipeline.Port
	logger *zap.Logger

	mu       sync.Mutex
	items    chan queueItem
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func NewQueue(name string, logger *zap.Logger) *Queue {
	q := &Queue{logger: logger}
	q.Element = pipeline.NewElement(q, "queue", name)

	q.sink = pipeline.NewPort("sink", pipeline.DirectionInput, pipeline.CapsAny)
	q.src = pipeline.NewPort("src", pipeline.DirectionOutput, pipeline.CapsAny)
	q.sink.SetChainFunc(func(_ *pipeline.Port, buf *pipeline.Buffer) error {
		return q.enqueue(queueItem{buf: buf})
	})
	q.sink.SetEventFunc(func(_ *pipeline.Port, ev pipeline.Event) error {
		return q.enqueue(queueItem{event: ev})
	})
	_ = q.AddPort(q.sink)
	_ = q.AddPort(q.src)

	q.InstallProperty(pipeline.PropertySpec{
		Name:        "max-size-buffers",
		Kind:        pipeline.PropertyInt,
		Default:     64,
		Min:         1,
		Max:         65536,
		Description: "Buffers held before the input blocks",
	}, nil)
	return q
}

func (q *Queue) ChangeState(ctx context.Context, t pipeline.Transition) error {
	switch t {
	case pipeline.ReadyToPaused:
		if err := q.Element.ChangeState(ctx, t); err != nil {
			return err
		}
		q.start()
		return nil
	case pipeline.PausedToReady:
		q.stop()
	}
	return q.Element.ChangeState(ctx, t)
}

func (q *Queue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.items = make(chan queueItem, q.IntProperty("max-size-buffers"))
	q.stopChan = make(chan struct{})
	q.running = true
	q.wg.Add(1)

	go q.loop(q.items, q.stopChan)
}

func (q *Queue) stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopChan)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) enqueue(item queueItem) error {
	q.mu.Lock()
	items, stop, running := q.items, q.stopChan, q.running
	q.mu.Unlock()

	if !running {
		return pipeline.ErrFlushing
	}
	select {
	case items <- item:
		return nil
	case <-stop:
		return pipeline.ErrFlushing
	}
}

func (q *Queue) loop(items <-chan queueItem, stop <-chan struct{}) {
	defer q.wg.Done()

	for {
		select {
		case <-stop:
			return
		case item := <-items:
			q.forward(item)
		}
	}
}

func (q *Queue) forward(item queueItem) {
	var err error
	if item.event != "" {
		err = q.src.PushEvent(item.event)
	} else {
		err = q.src.Push(item.buf)
	}

	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrNotLinked), errors.Is(err, pipeline.ErrFlushing):
		q.logger.Debug("Queue dropped item", zap.String("queue", q.Name()), zap.Error(err))
	default:
		q.logger.Warn("Queue push failed", zap.String("queue", q.Name()), zap.Error(err))
		q.PostMessage(pipeline.Message{Type: pipeline.MessageWarning, Data: err.Error(), Err: err})
	}
}

// Level returns the number of queued items.
func (q *Queue) Level() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items == nil {
		return 0
	}
	return len(q.items)
}
