package elements

import (
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/container"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

var muxTemplates = map[string]bool{
	"video":    true,
	"audio":    true,
	"subtitle": true,
}

type muxTrack struct {
	id        uint16
	name      string
	announced bool
	eos       bool
}

// Muxer interleaves its requested inputs into a single container stream.
// Input ports are requested from templates like "video_%u".
type Muxer struct {
	*pipeline.Element

	src    *pipeline.Port
	logger *zap.Logger

	mu       sync.Mutex
	nextID   uint16
	counters map[string]int
	tracks   map[*pipeline.Port]*muxTrack
	eosSent  bool
}

func NewMuxer(name string, logger *zap.Logger) *Muxer {
	m := &Muxer{
		logger:   logger,
		counters: make(map[string]int),
		tracks:   make(map[*pipeline.Port]*muxTrack),
	}
	m.Element = pipeline.NewElement(m, "muxer", name)

	m.src = pipeline.NewPort("src", pipeline.DirectionOutput, container.MediaType)
	_ = m.AddPort(m.src)
	return m
}

func (m *Muxer) RequestPort(template string) (*pipeline.Port, error) {
	prefix, ok := strings.CutSuffix(template, "_%u")
	if !ok || !muxTemplates[prefix] {
		return nil, fmt.Errorf("%w: %s has no template %q", pipeline.ErrNotRequestable, m.Name(), template)
	}

	m.mu.Lock()
	n := m.counters[prefix]
	m.counters[prefix]++
	track := &muxTrack{
		id:   m.nextID,
		name: fmt.Sprintf("%s_%02d", prefix, n),
	}
	m.nextID++
	m.mu.Unlock()

	p := pipeline.NewPort(fmt.Sprintf("%s_%d", prefix, n), pipeline.DirectionInput, pipeline.CapsAny)
	p.SetChainFunc(func(p *pipeline.Port, buf *pipeline.Buffer) error {
		return m.write(track, p, buf)
	})
	p.SetEventFunc(func(_ *pipeline.Port, ev pipeline.Event) error {
		return m.event(track, ev)
	})
	p.SetActive(m.State() >= pipeline.StatePaused)

	if err := m.AddPort(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.tracks[p] = track
	m.mu.Unlock()

	m.logger.Debug("Muxer input requested",
		zap.String("node", m.Name()),
		zap.String("port", p.Name()),
		zap.String("track", track.name))
	return p, nil
}

func (m *Muxer) ReleasePort(p *pipeline.Port) error {
	m.mu.Lock()
	delete(m.tracks, p)
	m.mu.Unlock()

	return m.RemovePort(p.Name())
}

// write emits the track header on first use, then the data frame.
func (m *Muxer) write(track *muxTrack, p *pipeline.Port, buf *pipeline.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !track.announced {
		caps := pipeline.CapsAny
		if peer := p.Peer(); peer != nil {
			caps = peer.Caps()
		}
		if err := m.emit(container.TrackHeader(track.id, track.name, caps.String())); err != nil {
			return err
		}
		track.announced = true
	}
	return m.emit(container.DataFrame(track.id, buf.PTS, buf.Duration, buf.Data))
}

func (m *Muxer) emit(f *container.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return m.src.Push(pipeline.NewBuffer(data))
}

// event forwards end-of-stream once every input has reached it.
func (m *Muxer) event(track *muxTrack, ev pipeline.Event) error {
	if ev != pipeline.EventEOS {
		return nil
	}

	m.mu.Lock()
	track.eos = true
	done := !m.eosSent
	for _, t := range m.tracks {
		if !t.eos {
			done = false
			break
		}
	}
	if done {
		m.eosSent = true
	}
	m.mu.Unlock()

	if !done {
		return nil
	}
	return forwardEvent(m.src, pipeline.EventEOS)
}
