package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Node is a processing unit with named ports and typed properties.
// Implementations embed *Element (or *Bin) to satisfy it.
type Node interface {
	ID() uuid.UUID
	Name() string
	TypeName() string
	Parent() Node

	Ports() []*Port
	Port(name string) *Port

	Property(name string) (any, error)
	SetProperty(name string, value any) error
	PropertySpecs() []PropertySpec

	State() State
	ChangeState(ctx context.Context, t Transition) error

	PostMessage(msg Message)

	setParent(parent Node) error
}

// PortRequester is implemented by nodes that create ports on demand from a
// template such as "video_%u".
type PortRequester interface {
	RequestPort(template string) (*Port, error)
	ReleasePort(p *Port) error
}

// PortAddedFunc is called synchronously after a port has been added.
type PortAddedFunc func(n Node, p *Port)

// Element carries the bookkeeping shared by every node.
type Element struct {
	self     Node
	id       uuid.UUID
	name     string
	typeName string

	mu        sync.RWMutex
	parent    Node
	ports     []*Port
	state     State
	props     map[string]*property
	propOrder []string
	portAdded []PortAddedFunc
}

// NewElement builds the embedded base for self. self must be the outer value
// that will be added to bins so port parents resolve to it.
func NewElement(self Node, typeName, name string) *Element {
	return &Element{
		self:     self,
		id:       uuid.New(),
		name:     name,
		typeName: typeName,
		props:    make(map[string]*property),
	}
}

func (e *Element) ID() uuid.UUID {
	return e.id
}

func (e *Element) Name() string {
	return e.name
}

func (e *Element) TypeName() string {
	return e.typeName
}

func (e *Element) Parent() Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent
}

func (e *Element) setParent(parent Node) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.parent != nil && parent != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyParented, e.name)
	}
	e.parent = parent
	return nil
}

func (e *Element) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Element) Ports() []*Port {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ports := make([]*Port, len(e.ports))
	copy(ports, e.ports)
	return ports
}

func (e *Element) Port(name string) *Port {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, p := range e.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (e *Element) InputPorts() []*Port {
	return e.portsByDirection(DirectionInput)
}

func (e *Element) OutputPorts() []*Port {
	return e.portsByDirection(DirectionOutput)
}

func (e *Element) portsByDirection(d Direction) []*Port {
	var ports []*Port
	for _, p := range e.Ports() {
		if p.direction == d {
			ports = append(ports, p)
		}
	}
	return ports
}

// AddPort attaches p to the node and notifies port-added listeners.
func (e *Element) AddPort(p *Port) error {
	e.mu.Lock()
	for _, existing := range e.ports {
		if existing.name == p.name {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s.%s", ErrDuplicatePort, e.name, p.name)
		}
	}
	p.setParent(e.self)
	e.ports = append(e.ports, p)
	listeners := make([]PortAddedFunc, len(e.portAdded))
	copy(listeners, e.portAdded)
	e.mu.Unlock()

	for _, listener := range listeners {
		listener(e.self, p)
	}
	return nil
}

// RemovePort unlinks and detaches the named port.
func (e *Element) RemovePort(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.ports {
		if p.name == name {
			p.Unlink()
			p.SetActive(false)
			e.ports = append(e.ports[:i], e.ports[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s.%s", ErrPortNotFound, e.name, name)
}

// OnPortAdded registers a listener for ports added after this call.
func (e *Element) OnPortAdded(f PortAddedFunc) {
	e.mu.Lock()
	e.portAdded = append(e.portAdded, f)
	e.mu.Unlock()
}

// ChangeState performs the default transition: ports are activated when
// entering Paused from Ready and deactivated when leaving it for Ready.
func (e *Element) ChangeState(ctx context.Context, t Transition) error {
	e.mu.Lock()
	if e.state != t.From() {
		current := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, current)
	}
	e.state = t.To()
	ports := make([]*Port, len(e.ports))
	copy(ports, e.ports)
	e.mu.Unlock()

	switch t {
	case ReadyToPaused:
		for _, p := range ports {
			p.SetActive(true)
		}
	case PausedToReady:
		for _, p := range ports {
			p.SetActive(false)
		}
	}
	return nil
}

// PostMessage forwards msg to the owning bin, if any.
func (e *Element) PostMessage(msg Message) {
	if msg.Source == "" {
		msg.Source = e.name
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if parent := e.Parent(); parent != nil {
		parent.PostMessage(msg)
	}
}
