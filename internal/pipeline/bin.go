package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Bin is a node that owns child nodes and exposes proxy ports for them.
type Bin struct {
	*Element

	bus *Bus

	cmu      sync.RWMutex
	children []Node
	byName   map[string]Node
	proxies  []*ProxyPort
}

func NewBin(name string) *Bin {
	b := newBin()
	b.Element = NewElement(b, "bin", name)
	return b
}

// NewBinFor builds the bin embedded in a composite node. self is the
// composite, so children report it as their parent.
func NewBinFor(self Node, typeName, name string) *Bin {
	b := newBin()
	b.Element = NewElement(self, typeName, name)
	return b
}

func newBin() *Bin {
	return &Bin{
		bus:    NewBus(),
		byName: make(map[string]Node),
	}
}

func (b *Bin) Bus() *Bus {
	return b.bus
}

// Add takes ownership of the given nodes. Names must be unique in the bin.
func (b *Bin) Add(nodes ...Node) error {
	b.cmu.Lock()
	defer b.cmu.Unlock()

	for _, n := range nodes {
		if _, exists := b.byName[n.Name()]; exists {
			return fmt.Errorf("%w: %s in %s", ErrDuplicateNode, n.Name(), b.Name())
		}
		if err := n.setParent(b.self); err != nil {
			return err
		}
		b.children = append(b.children, n)
		b.byName[n.Name()] = n
	}
	return nil
}

func (b *Bin) Child(name string) (Node, bool) {
	b.cmu.RLock()
	defer b.cmu.RUnlock()
	n, ok := b.byName[name]
	return n, ok
}

func (b *Bin) Children() []Node {
	b.cmu.RLock()
	defer b.cmu.RUnlock()

	children := make([]Node, len(b.children))
	copy(children, b.children)
	return children
}

// AddProxyPort exposes pp on the bin. The proxy may still be unbound.
func (b *Bin) AddProxyPort(pp *ProxyPort) error {
	pp.mu.Lock()
	if pp.owner != nil {
		pp.mu.Unlock()
		return fmt.Errorf("%w: proxy %s", ErrAlreadyParented, pp.Name())
	}
	pp.owner = b
	pp.mu.Unlock()

	if err := b.Element.AddPort(pp.Port); err != nil {
		pp.mu.Lock()
		pp.owner = nil
		pp.mu.Unlock()
		return err
	}
	pp.internal.setParent(b.self)

	b.cmu.Lock()
	b.proxies = append(b.proxies, pp)
	b.cmu.Unlock()
	return nil
}

func (b *Bin) ProxyPort(name string) *ProxyPort {
	b.cmu.RLock()
	defer b.cmu.RUnlock()

	for _, pp := range b.proxies {
		if pp.Name() == name {
			return pp
		}
	}
	return nil
}

func (b *Bin) ProxyPorts() []*ProxyPort {
	b.cmu.RLock()
	defer b.cmu.RUnlock()

	proxies := make([]*ProxyPort, len(b.proxies))
	copy(proxies, b.proxies)
	return proxies
}

// ChangeState applies t to every child, downstream first when moving
// towards Playing and upstream first when moving back, then to the bin.
func (b *Bin) ChangeState(ctx context.Context, t Transition) error {
	if current := b.State(); current != t.From() {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, t, current)
	}

	for _, child := range b.orderedChildren(t.Upward()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if child.State() != t.From() {
			if err := SetState(ctx, child, t.From()); err != nil {
				return err
			}
		}
		if err := child.ChangeState(ctx, t); err != nil {
			return fmt.Errorf("%s %s: %w", child.Name(), t, err)
		}
	}

	switch t {
	case ReadyToPaused:
		for _, pp := range b.ProxyPorts() {
			pp.setActive(true)
		}
	case PausedToReady:
		for _, pp := range b.ProxyPorts() {
			pp.setActive(false)
		}
	}

	return b.Element.ChangeState(ctx, t)
}

// orderedChildren sorts children by link topology. Nodes in cycles or
// without links keep insertion order.
func (b *Bin) orderedChildren(downstreamFirst bool) []Node {
	children := b.Children()
	index := make(map[Node]int, len(children))
	for i, c := range children {
		index[c] = i
	}

	indegree := make([]int, len(children))
	edges := make([][]int, len(children))
	for i, c := range children {
		for _, p := range c.Ports() {
			if p.Direction() != DirectionOutput {
				continue
			}
			peer := p.Peer()
			if peer == nil {
				continue
			}
			j, ok := index[peer.Parent()]
			if !ok || j == i {
				continue
			}
			edges[i] = append(edges[i], j)
			indegree[j]++
		}
	}

	ordered := make([]Node, 0, len(children))
	visited := make([]bool, len(children))
	for len(ordered) < len(children) {
		progressed := false
		for i := range children {
			if visited[i] || indegree[i] > 0 {
				continue
			}
			visited[i] = true
			ordered = append(ordered, children[i])
			for _, j := range edges[i] {
				indegree[j]--
			}
			progressed = true
		}
		if !progressed {
			for i := range children {
				if !visited[i] {
					visited[i] = true
					ordered = append(ordered, children[i])
				}
			}
		}
	}

	if downstreamFirst {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	return ordered
}

// PostMessage delivers msg to the bin's bus and bubbles it to the parent.
func (b *Bin) PostMessage(msg Message) {
	if msg.Source == "" {
		msg.Source = b.Name()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.bus.Post(msg)
	if parent := b.Parent(); parent != nil {
		parent.PostMessage(msg)
	}
}

// Close releases children that hold resources and closes the bus.
func (b *Bin) Close() error {
	var err error
	for _, child := range b.Children() {
		if closer, ok := child.(io.Closer); ok {
			err = multierr.Append(err, closer.Close())
		}
	}
	b.bus.Close()
	return err
}
