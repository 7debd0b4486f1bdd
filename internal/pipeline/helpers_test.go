package pipeline

import (
	"context"
	"sync"
)

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.steps))
	copy(out, r.steps)
	return out
}

type fakeNode struct {
	*Element

	rec *recorder

	mu       sync.Mutex
	received []*Buffer
	events   []Event
}

func newFakeNode(name string) *fakeNode {
	n := &fakeNode{}
	n.Element = NewElement(n, "fake", name)
	return n
}

func newFakeSource(name string, caps Caps) *fakeNode {
	n := newFakeNode(name)
	_ = n.AddPort(NewPort("src", DirectionOutput, caps))
	return n
}

func newFakeFilter(name string, in, out Caps) *fakeNode {
	n := newFakeNode(name)
	n.addSink(in)
	_ = n.AddPort(NewPort("src", DirectionOutput, out))
	return n
}

func newFakeSink(name string, caps Caps) *fakeNode {
	n := newFakeNode(name)
	n.addSink(caps)
	return n
}

func (n *fakeNode) addSink(caps Caps) {
	sink := NewPort("sink", DirectionInput, caps)
	sink.SetChainFunc(func(_ *Port, buf *Buffer) error {
		n.mu.Lock()
		n.received = append(n.received, buf)
		n.mu.Unlock()
		if src := n.Port("src"); src != nil && src.IsLinked() {
			return src.Push(buf)
		}
		return nil
	})
	sink.SetEventFunc(func(_ *Port, ev Event) error {
		n.mu.Lock()
		n.events = append(n.events, ev)
		n.mu.Unlock()
		if src := n.Port("src"); src != nil && src.IsLinked() {
			return src.PushEvent(ev)
		}
		return nil
	})
	_ = n.AddPort(sink)
}

func (n *fakeNode) buffers() []*Buffer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Buffer, len(n.received))
	copy(out, n.received)
	return out
}

func (n *fakeNode) ChangeState(ctx context.Context, t Transition) error {
	if n.rec != nil {
		n.rec.add(n.Name() + ":" + t.String())
	}
	return n.Element.ChangeState(ctx, t)
}

// requestNode hands out input ports from "in_%u".
type requestNode struct {
	*Element
	next int
}

func newRequestNode(name string) *requestNode {
	n := &requestNode{}
	n.Element = NewElement(n, "request", name)
	return n
}

func (n *requestNode) RequestPort(template string) (*Port, error) {
	p := NewPort(fmtIndex(template, n.next), DirectionInput, CapsAny)
	n.next++
	if err := n.AddPort(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (n *requestNode) ReleasePort(p *Port) error {
	return n.RemovePort(p.Name())
}

func fmtIndex(template string, i int) string {
	out := []byte{}
	for j := 0; j < len(template); j++ {
		if template[j] == '%' && j+1 < len(template) && template[j+1] == 'u' {
			out = append(out, []byte(itoa(i))...)
			j++
			continue
		}
		out = append(out, template[j])
	}
	return string(out)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
