package bins

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/router"
	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/KevinKickass/OpenMediaCore/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Composite is a bin assembled from a definition. It reports every state
// transition before handing it to the default bin behaviour.
type Composite struct {
	*pipeline.Bin

	def     *types.CompositeDefinition
	logger  *zap.Logger
	metrics *metrics.Metrics

	legacyFallthrough bool

	mu     sync.RWMutex
	router *router.Router
	bridge *serial.Bridge
}

func newComposite(name string, def *types.CompositeDefinition, logger *zap.Logger, m *metrics.Metrics, legacy bool) *Composite {
	c := &Composite{
		def:               def,
		logger:            logger,
		metrics:           m,
		legacyFallthrough: legacy,
	}
	c.Bin = pipeline.NewBinFor(c, def.Composite.Name, name)
	return c
}

func (c *Composite) ChangeState(ctx context.Context, t pipeline.Transition) error {
	c.diagnose(t)
	if c.legacyFallthrough && t == pipeline.PlayingToPaused {
		c.diagnose(pipeline.PausedToReady)
	}
	return c.Bin.ChangeState(ctx, t)
}

func (c *Composite) diagnose(t pipeline.Transition) {
	c.logger.Info("Composite state transition",
		zap.String("composite", c.Name()),
		zap.String("transition", t.String()),
		zap.String("from", t.From().String()),
		zap.String("to", t.To().String()))
	c.metrics.IncTransition(c.Name(), t.String())
	c.PostMessage(pipeline.Message{
		Type: pipeline.MessageStateChanged,
		Data: pipeline.StateChangedData{
			Transition: t.String(),
			Old:        t.From().String(),
			New:        t.To().String(),
		},
	})
}

func (c *Composite) Definition() *types.CompositeDefinition {
	return c.def
}

// Router returns the dynamic port router, or nil for composites without
// a demultiplexer.
func (c *Composite) Router() *router.Router {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.router
}

func (c *Composite) Bridge() *serial.Bridge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bridge
}

// Err returns the first routing failure, if any.
func (c *Composite) Err() error {
	if r := c.Router(); r != nil {
		return r.Err()
	}
	return nil
}

// EndOfStream ends a bridged stream: the device is closed and
// end-of-stream flows downstream. Composites without a bridge ignore it.
func (c *Composite) EndOfStream() error {
	b := c.Bridge()
	if b == nil {
		return nil
	}
	return b.EndOfStream()
}

// Summary describes the composite for the control API.
func (c *Composite) Summary() types.CompositeSummary {
	s := types.CompositeSummary{
		ID:         c.ID().String(),
		Name:       c.Name(),
		Definition: c.def.Composite.Name,
		State:      c.State().String(),
		Nodes:      len(c.Children()),
	}
	for _, pp := range c.ProxyPorts() {
		info := types.PortInfo{
			Name:      pp.Name(),
			Direction: string(pp.Direction()),
			Caps:      pp.Caps().String(),
			Linked:    pp.IsLinked(),
			Active:    pp.IsActive(),
		}
		if target := pp.Target(); target != nil {
			info.Target = target.Path()
		}
		s.Ports = append(s.Ports, info)
	}
	if r := c.Router(); r != nil {
		s.Routes = make(map[string]string)
		for category, port := range r.Routed() {
			s.Routes[string(category)] = port
		}
		s.Unrouted = r.Unrouted()
	}
	if err := c.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// Properties returns the composite properties with their current values.
func (c *Composite) Properties() []types.PropertyInfo {
	specs := c.PropertySpecs()
	out := make([]types.PropertyInfo, 0, len(specs))
	for _, spec := range specs {
		value, _ := c.Property(spec.Name)
		out = append(out, types.PropertyInfo{
			Name:        spec.Name,
			Kind:        string(spec.Kind),
			Value:       value,
			Default:     spec.Default,
			Description: spec.Description,
		})
	}
	return out
}

// Close closes the serial session, if any, and the underlying bin.
func (c *Composite) Close() error {
	var err error
	if b := c.Bridge(); b != nil {
		err = multierr.Append(err, b.SetSession(nil))
	}
	return multierr.Append(err, c.Bin.Close())
}

func (c *Composite) logHandoff(n pipeline.Node, buf *pipeline.Buffer) {
	c.logger.Debug("Text unit handed off",
		zap.String("composite", c.Name()),
		zap.String("node", n.Name()),
		zap.Int("size", buf.Len()),
		zap.Duration("pts", buf.PTS),
		zap.String("dump", hex.Dump(buf.Data)))
	c.metrics.IncHandoff(n.Name())
	c.PostMessage(pipeline.Message{
		Type:   pipeline.MessageHandoff,
		Source: n.Name(),
		Data: pipeline.HandoffData{
			Size: buf.Len(),
			PTS:  buf.PTS.String(),
			Hex:  hex.EncodeToString(buf.Data),
		},
	})
}
