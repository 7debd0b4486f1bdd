package pipeline

import (
	"fmt"
	"sync"
)

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

func (d Direction) Valid() bool {
	return d == DirectionInput || d == DirectionOutput
}

func (d Direction) Opposite() Direction {
	if d == DirectionInput {
		return DirectionOutput
	}
	return DirectionInput
}

// ChainFunc receives buffers arriving on an input port.
type ChainFunc func(p *Port, buf *Buffer) error

// EventFunc receives events arriving on an input port.
type EventFunc func(p *Port, ev Event) error

// Port is a connection point on a node. An output port pushes into the
// chain function of the input port it is linked to.
type Port struct {
	name      string
	direction Direction
	caps      Caps

	mu     sync.RWMutex
	parent Node
	peer   *Port
	active bool
	chain  ChainFunc
	event  EventFunc
	query  func() Caps
}

func NewPort(name string, direction Direction, caps Caps) *Port {
	if caps == "" {
		caps = CapsAny
	}
	return &Port{
		name:      name,
		direction: direction,
		caps:      caps,
	}
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) Direction() Direction {
	return p.direction
}

func (p *Port) Parent() Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.parent
}

func (p *Port) setParent(n Node) {
	p.mu.Lock()
	p.parent = n
	p.mu.Unlock()
}

// Path returns "node.port" for diagnostics.
func (p *Port) Path() string {
	if parent := p.Parent(); parent != nil {
		return parent.Name() + "." + p.name
	}
	return p.name
}

func (p *Port) String() string {
	return p.Path()
}

// Caps returns the format currently advertised by the port.
func (p *Port) Caps() Caps {
	p.mu.RLock()
	query := p.query
	caps := p.caps
	p.mu.RUnlock()

	if query != nil {
		return query()
	}
	return caps
}

// SetCaps replaces the advertised format. Existing links are not renegotiated.
func (p *Port) SetCaps(caps Caps) {
	if caps == "" {
		caps = CapsAny
	}
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

func (p *Port) Peer() *Port {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peer
}

func (p *Port) IsLinked() bool {
	return p.Peer() != nil
}

func (p *Port) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *Port) SetActive(active bool) {
	p.mu.Lock()
	p.active = active
	p.mu.Unlock()
}

func (p *Port) SetChainFunc(f ChainFunc) {
	p.mu.Lock()
	p.chain = f
	p.mu.Unlock()
}

func (p *Port) SetEventFunc(f EventFunc) {
	p.mu.Lock()
	p.event = f
	p.mu.Unlock()
}

// Link connects output port p to input port sink after checking direction,
// availability and caps compatibility.
func (p *Port) Link(sink *Port) error {
	if sink == nil {
		return &LinkError{Src: p.Path(), Dst: "<nil>", Err: ErrPortNotFound}
	}
	if p.direction != DirectionOutput || sink.direction != DirectionInput {
		return &LinkError{Src: p.Path(), Dst: sink.Path(), Err: ErrWrongDirection}
	}

	srcCaps := p.Caps()
	sinkCaps := sink.Caps()
	if !srcCaps.CanIntersect(sinkCaps) {
		return &LinkError{
			Src: p.Path(),
			Dst: sink.Path(),
			Err: fmt.Errorf("%w: %s vs %s", ErrCapsIncompatible, srcCaps, sinkCaps),
		}
	}

	// Path takes the read lock, so resolve names before locking both sides.
	srcPath, sinkPath := p.Path(), sink.Path()

	p.mu.Lock()
	defer p.mu.Unlock()
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if p.peer != nil || sink.peer != nil {
		return &LinkError{Src: srcPath, Dst: sinkPath, Err: ErrAlreadyLinked}
	}

	p.peer = sink
	sink.peer = p
	return nil
}

// Unlink drops the link on either side. Unlinked ports are a no-op.
func (p *Port) Unlink() {
	peer := p.Peer()
	if peer == nil {
		return
	}

	src, sink := p, peer
	if p.direction == DirectionInput {
		src, sink = peer, p
	}

	src.mu.Lock()
	sink.mu.Lock()
	if src.peer == sink {
		src.peer = nil
		sink.peer = nil
	}
	sink.mu.Unlock()
	src.mu.Unlock()
}

// Push sends buf to the linked peer's chain function.
func (p *Port) Push(buf *Buffer) error {
	if p.direction != DirectionOutput {
		return ErrWrongDirection
	}

	p.mu.RLock()
	peer, active := p.peer, p.active
	p.mu.RUnlock()

	if peer == nil {
		return ErrNotLinked
	}
	if !active {
		return ErrFlushing
	}
	return peer.receive(buf)
}

func (p *Port) receive(buf *Buffer) error {
	p.mu.RLock()
	active, chain := p.active, p.chain
	p.mu.RUnlock()

	if !active {
		return ErrFlushing
	}
	if chain == nil {
		return ErrNoHandler
	}
	return chain(p, buf)
}

// PushEvent sends ev downstream. Peers without an event handler drop it.
func (p *Port) PushEvent(ev Event) error {
	if p.direction != DirectionOutput {
		return ErrWrongDirection
	}

	p.mu.RLock()
	peer := p.peer
	p.mu.RUnlock()

	if peer == nil {
		return ErrNotLinked
	}
	return peer.receiveEvent(ev)
}

func (p *Port) receiveEvent(ev Event) error {
	p.mu.RLock()
	handler := p.event
	p.mu.RUnlock()

	if handler == nil {
		return nil
	}
	return handler(p, ev)
}
