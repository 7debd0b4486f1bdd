package elements

import (
	"context"
	"errors"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/container"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

// Demuxer splits a container stream into one output port per track. Ports
// appear at run time when a track header arrives; port-added listeners run
// on the streaming goroutine before the first buffer of that track.
type Demuxer struct {
	*pipeline.Element

	sink   *pipeline.Port
	logger *zap.Logger

	mu     sync.Mutex
	reader container.Reader
	tracks map[uint16]*pipeline.Port
}

func NewDemuxer(name string, logger *zap.Logger) *Demuxer {
	d := &Demuxer{
		logger: logger,
		tracks: make(map[uint16]*pipeline.Port),
	}
	d.Element = pipeline.NewElement(d, "demuxer", name)

	d.sink = pipeline.NewPort("sink", pipeline.DirectionInput, container.MediaType)
	d.sink.SetChainFunc(d.chain)
	d.sink.SetEventFunc(d.event)
	_ = d.AddPort(d.sink)
	return d
}

func (d *Demuxer) ChangeState(ctx context.Context, t pipeline.Transition) error {
	if t == pipeline.PausedToReady {
		d.mu.Lock()
		d.reader.Reset()
		d.mu.Unlock()
	}
	return d.Element.ChangeState(ctx, t)
}

func (d *Demuxer) chain(_ *pipeline.Port, buf *pipeline.Buffer) error {
	d.mu.Lock()
	frames, err := d.reader.Feed(buf.Data)
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("Demuxer discarded corrupt input", zap.String("node", d.Name()), zap.Error(err))
		d.PostMessage(pipeline.Message{Type: pipeline.MessageWarning, Data: err.Error(), Err: err})
	}

	for _, f := range frames {
		switch f.Type {
		case container.FrameTrackHeader:
			d.addTrack(f)
		case container.FrameData:
			if err := d.pushData(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Demuxer) addTrack(f *container.Frame) {
	d.mu.Lock()
	if _, ok := d.tracks[f.TrackID]; ok {
		d.mu.Unlock()
		return
	}
	caps := pipeline.Caps(f.Caps)
	p := pipeline.NewPort(f.Name, pipeline.DirectionOutput, caps)
	p.SetActive(d.State() >= pipeline.StatePaused)
	d.tracks[f.TrackID] = p
	d.mu.Unlock()

	if err := d.AddPort(p); err != nil {
		d.logger.Warn("Demuxer could not expose track",
			zap.String("node", d.Name()),
			zap.String("track", f.Name),
			zap.Error(err))
		return
	}

	d.logger.Info("Demuxer exposed track",
		zap.String("node", d.Name()),
		zap.String("port", p.Name()),
		zap.String("caps", p.Caps().String()))
	d.PostMessage(pipeline.Message{
		Type: pipeline.MessagePortAdded,
		Data: pipeline.PortAddedData{Port: p.Name(), Caps: p.Caps().String()},
	})
}

func (d *Demuxer) pushData(f *container.Frame) error {
	d.mu.Lock()
	p := d.tracks[f.TrackID]
	d.mu.Unlock()

	if p == nil {
		d.logger.Debug("Demuxer dropped data for unknown track",
			zap.String("node", d.Name()),
			zap.Uint16("track", f.TrackID))
		return nil
	}

	err := p.Push(&pipeline.Buffer{Data: f.Payload, PTS: f.PTS, Duration: f.Duration})
	if errors.Is(err, pipeline.ErrNotLinked) {
		return nil
	}
	return err
}

func (d *Demuxer) event(_ *pipeline.Port, ev pipeline.Event) error {
	d.mu.Lock()
	ports := make([]*pipeline.Port, 0, len(d.tracks))
	for _, p := range d.tracks {
		ports = append(ports, p)
	}
	d.mu.Unlock()

	var firstErr error
	for _, p := range ports {
		if err := forwardEvent(p, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tracks returns the number of tracks seen so far.
func (d *Demuxer) Tracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracks)
}
