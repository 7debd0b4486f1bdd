package elements

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

// TransformSpec describes a one-in one-out node. Payloads pass through
// unchanged; only the advertised caps differ per type.
type TransformSpec struct {
	TypeName string
	SinkName string
	SinkCaps pipeline.Caps
	SrcCaps  pipeline.Caps
}

var transforms = []TransformSpec{
	{TypeName: "video-decoder", SinkCaps: "video/x-theora", SrcCaps: "video/x-raw"},
	{TypeName: "video-encoder", SinkCaps: "video/x-raw", SrcCaps: "video/x-theora"},
	{TypeName: "audio-decoder", SinkCaps: "audio/x-vorbis", SrcCaps: "audio/x-raw"},
	{TypeName: "audio-encoder", SinkCaps: "audio/x-raw", SrcCaps: "audio/x-vorbis"},
	{TypeName: "video-convert", SinkCaps: "video/x-raw", SrcCaps: "video/x-raw"},
	{TypeName: "audio-convert", SinkCaps: "audio/x-raw", SrcCaps: "audio/x-raw"},
	{TypeName: "audio-resample", SinkCaps: "audio/x-raw", SrcCaps: "audio/x-raw"},
	{TypeName: "video-rate", SinkCaps: "video/x-raw", SrcCaps: "video/x-raw"},
	{TypeName: "time-overlay", SinkName: "video_sink", SinkCaps: "video/x-raw", SrcCaps: "video/x-raw"},
}

type Transform struct {
	*pipeline.Element

	sink   *pipeline.Port
	src    *pipeline.Port
	logger *zap.Logger

	processed atomic.Uint64
}

func NewTransform(spec TransformSpec, name string, logger *zap.Logger) *Transform {
	t := &Transform{logger: logger}
	t.Element = pipeline.NewElement(t, spec.TypeName, name)

	sinkName := spec.SinkName
	if sinkName == "" {
		sinkName = "sink"
	}
	t.sink = pipeline.NewPort(sinkName, pipeline.DirectionInput, spec.SinkCaps)
	t.src = pipeline.NewPort("src", pipeline.DirectionOutput, spec.SrcCaps)
	t.sink.SetChainFunc(t.chain)
	t.sink.SetEventFunc(t.event)

	_ = t.AddPort(t.sink)
	_ = t.AddPort(t.src)
	return t
}

func (t *Transform) chain(_ *pipeline.Port, buf *pipeline.Buffer) error {
	t.processed.Add(1)
	return t.src.Push(buf)
}

func (t *Transform) event(_ *pipeline.Port, ev pipeline.Event) error {
	return forwardEvent(t.src, ev)
}

func (t *Transform) Processed() uint64 {
	return t.processed.Load()
}

// CapsFilter restricts the format flowing through it to the "caps" property.
type CapsFilter struct {
	*pipeline.Element

	sink   *pipeline.Port
	src    *pipeline.Port
	logger *zap.Logger
}

func NewCapsFilter(name string, logger *zap.Logger) *CapsFilter {
	f := &CapsFilter{logger: logger}
	f.Element = pipeline.NewElement(f, "caps-filter", name)

	f.sink = pipeline.NewPort("sink", pipeline.DirectionInput, pipeline.CapsAny)
	f.src = pipeline.NewPort("src", pipeline.DirectionOutput, pipeline.CapsAny)
	f.sink.SetChainFunc(func(_ *pipeline.Port, buf *pipeline.Buffer) error {
		return f.src.Push(buf)
	})
	f.sink.SetEventFunc(func(_ *pipeline.Port, ev pipeline.Event) error {
		return forwardEvent(f.src, ev)
	})
	_ = f.AddPort(f.sink)
	_ = f.AddPort(f.src)

	f.InstallProperty(pipeline.PropertySpec{
		Name:        "caps",
		Kind:        pipeline.PropertyString,
		Default:     string(pipeline.CapsAny),
		Description: "Format allowed through the filter",
	}, func(v any) error {
		caps := pipeline.Caps(v.(string))
		f.sink.SetCaps(caps)
		f.src.SetCaps(caps)
		return nil
	})
	return f
}

// HandoffFunc observes every buffer passing through an Identity node.
type HandoffFunc func(n pipeline.Node, buf *pipeline.Buffer)

// Identity passes buffers through and notifies handoff listeners first.
type Identity struct {
	*pipeline.Element

	sink   *pipeline.Port
	src    *pipeline.Port
	logger *zap.Logger

	mu       sync.RWMutex
	handoffs []HandoffFunc
}

func NewIdentity(name string, logger *zap.Logger) *Identity {
	id := &Identity{logger: logger}
	id.Element = pipeline.NewElement(id, "identity", name)

	id.sink = pipeline.NewPort("sink", pipeline.DirectionInput, pipeline.CapsAny)
	id.src = pipeline.NewPort("src", pipeline.DirectionOutput, pipeline.CapsAny)
	id.sink.SetChainFunc(id.chain)
	id.sink.SetEventFunc(func(_ *pipeline.Port, ev pipeline.Event) error {
		return forwardEvent(id.src, ev)
	})
	_ = id.AddPort(id.sink)
	_ = id.AddPort(id.src)
	return id
}

func (id *Identity) OnHandoff(f HandoffFunc) {
	id.mu.Lock()
	id.handoffs = append(id.handoffs, f)
	id.mu.Unlock()
}

func (id *Identity) chain(_ *pipeline.Port, buf *pipeline.Buffer) error {
	id.mu.RLock()
	handoffs := make([]HandoffFunc, len(id.handoffs))
	copy(handoffs, id.handoffs)
	id.mu.RUnlock()

	for _, h := range handoffs {
		h(id, buf)
	}
	return id.src.Push(buf)
}

// forwardEvent pushes ev downstream; an unlinked output swallows it.
func forwardEvent(src *pipeline.Port, ev pipeline.Event) error {
	err := src.PushEvent(ev)
	if errors.Is(err, pipeline.ErrNotLinked) {
		return nil
	}
	return err
}
