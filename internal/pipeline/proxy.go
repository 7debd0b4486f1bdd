package pipeline

import (
	"fmt"
	"sync"
)

// PortTemplate describes a port before it exists.
type PortTemplate struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Caps      Caps      `json:"caps"`
}

var (
	SrcTemplate  = PortTemplate{Name: "src", Direction: DirectionOutput, Caps: CapsAny}
	SinkTemplate = PortTemplate{Name: "sink", Direction: DirectionInput, Caps: CapsAny}
)

// ProxyPort is a bin-owned port that forwards data and caps queries to an
// internal target port. It is declared first and bound later.
type ProxyPort struct {
	*Port

	template PortTemplate
	internal *Port

	mu          sync.RWMutex
	target      *Port
	owner       *Bin
	passThrough bool
}

// NewProxyPort declares an unbound proxy called name from tmpl.
func NewProxyPort(name string, tmpl PortTemplate) (*ProxyPort, error) {
	if name == "" || tmpl.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTemplate)
	}
	if !tmpl.Direction.Valid() {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidTemplate, tmpl.Direction)
	}

	pp := &ProxyPort{
		template: tmpl,
		Port:     NewPort(name, tmpl.Direction, tmpl.Caps),
		internal: NewPort(name+"-internal", tmpl.Direction.Opposite(), CapsAny),
	}
	pp.Port.query = pp.targetCaps

	switch tmpl.Direction {
	case DirectionOutput:
		pp.internal.SetChainFunc(func(_ *Port, buf *Buffer) error {
			return pp.Port.Push(buf)
		})
		pp.internal.SetEventFunc(func(_ *Port, ev Event) error {
			return pp.Port.PushEvent(ev)
		})
	case DirectionInput:
		pp.Port.SetChainFunc(func(_ *Port, buf *Buffer) error {
			if !pp.IsBound() {
				return ErrProxyUnbound
			}
			return pp.internal.Push(buf)
		})
		pp.Port.SetEventFunc(func(_ *Port, ev Event) error {
			if !pp.IsBound() {
				return ErrProxyUnbound
			}
			return pp.internal.PushEvent(ev)
		})
	}

	return pp, nil
}

func (pp *ProxyPort) Template() PortTemplate {
	return pp.template
}

// Bind attaches the proxy to target. The target must have the same
// direction as the proxy and caps compatible with the template.
func (pp *ProxyPort) Bind(target *Port) error {
	if target == nil {
		return fmt.Errorf("bind %s: %w", pp.Name(), ErrPortNotFound)
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.target != nil {
		return fmt.Errorf("bind %s: %w", pp.Name(), ErrProxyAlreadyBound)
	}
	if target.Direction() != pp.Direction() {
		return fmt.Errorf("bind %s to %s: %w", pp.Name(), target.Path(), ErrWrongDirection)
	}
	if !pp.template.Caps.CanIntersect(target.Caps()) {
		return fmt.Errorf("bind %s to %s: %w: %s vs %s",
			pp.Name(), target.Path(), ErrCapsIncompatible, pp.template.Caps, target.Caps())
	}

	var err error
	if pp.Direction() == DirectionOutput {
		err = target.Link(pp.internal)
	} else {
		err = pp.internal.Link(target)
	}
	if err != nil {
		return fmt.Errorf("bind %s: %w", pp.Name(), err)
	}

	pp.target = target
	return nil
}

func (pp *ProxyPort) Target() *Port {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return pp.target
}

func (pp *ProxyPort) IsBound() bool {
	return pp.Target() != nil
}

func (pp *ProxyPort) targetCaps() Caps {
	if target := pp.Target(); target != nil {
		return target.Caps()
	}
	return pp.template.Caps
}

// QueryCaps returns the bound target's caps.
func (pp *ProxyPort) QueryCaps() (Caps, error) {
	target := pp.Target()
	if target == nil {
		return "", fmt.Errorf("query %s: %w", pp.Name(), ErrProxyUnbound)
	}
	return target.Caps(), nil
}

func (pp *ProxyPort) SetPassThrough(enabled bool) {
	pp.mu.Lock()
	pp.passThrough = enabled
	pp.mu.Unlock()
}

func (pp *ProxyPort) PassThrough() bool {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return pp.passThrough
}

// Activate enables data flow through the proxy. It fails until the proxy
// has been added to a bin.
func (pp *ProxyPort) Activate() error {
	pp.mu.RLock()
	owner := pp.owner
	pp.mu.RUnlock()

	if owner == nil {
		return fmt.Errorf("activate %s: %w", pp.Name(), ErrProxyNotAdded)
	}
	pp.setActive(true)
	return nil
}

func (pp *ProxyPort) setActive(active bool) {
	pp.Port.SetActive(active)
	pp.internal.SetActive(active)
}

// Push injects buf into the proxy from outside the bin.
func (pp *ProxyPort) Push(buf *Buffer) error {
	if !pp.IsBound() {
		return ErrProxyUnbound
	}
	if pp.Direction() == DirectionInput {
		return pp.Port.receive(buf)
	}
	return pp.Port.Push(buf)
}

// PushEvent injects ev into the proxy from outside the bin.
func (pp *ProxyPort) PushEvent(ev Event) error {
	if !pp.IsBound() {
		return ErrProxyUnbound
	}
	if pp.Direction() == DirectionInput {
		return pp.Port.receiveEvent(ev)
	}
	return pp.Port.PushEvent(ev)
}
