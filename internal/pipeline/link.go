package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// LinkNodes links the first free output of src to the first free,
// caps-compatible input of dst.
func LinkNodes(src, dst Node) error {
	_, err := linkNodes(src, dst)
	return err
}

func linkNodes(src, dst Node) (*Port, error) {
	for _, out := range src.Ports() {
		if out.Direction() != DirectionOutput || out.IsLinked() {
			continue
		}
		for _, in := range dst.Ports() {
			if in.Direction() != DirectionInput || in.IsLinked() {
				continue
			}
			if !out.Caps().CanIntersect(in.Caps()) {
				continue
			}
			if err := out.Link(in); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return nil, &LinkError{
		Src: src.Name(),
		Dst: dst.Name(),
		Err: errors.New("no free compatible ports"),
	}
}

// LinkChain links nodes pairwise in order. On failure every link made by
// this call is undone before returning.
func LinkChain(nodes ...Node) error {
	linked := make([]*Port, 0, len(nodes))
	for i := 0; i+1 < len(nodes); i++ {
		out, err := linkNodes(nodes[i], nodes[i+1])
		if err != nil {
			for _, p := range linked {
				p.Unlink()
			}
			return err
		}
		linked = append(linked, out)
	}
	return nil
}

// LinkPorts links src.srcPort to dst.dstPort. A port name containing '%' is
// requested from the node as a template.
func LinkPorts(src Node, srcPort string, dst Node, dstPort string) error {
	sp, err := ResolvePort(src, srcPort)
	if err != nil {
		return &LinkError{Src: src.Name() + "." + srcPort, Dst: dst.Name() + "." + dstPort, Err: err}
	}
	dp, err := ResolvePort(dst, dstPort)
	if err != nil {
		releaseRequested(src, srcPort, sp)
		return &LinkError{Src: sp.Path(), Dst: dst.Name() + "." + dstPort, Err: err}
	}
	if err := sp.Link(dp); err != nil {
		releaseRequested(src, srcPort, sp)
		releaseRequested(dst, dstPort, dp)
		return err
	}
	return nil
}

// ResolvePort finds a static port or requests one from a template.
func ResolvePort(n Node, name string) (*Port, error) {
	if strings.Contains(name, "%") {
		requester, ok := n.(PortRequester)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotRequestable, n.Name())
		}
		return requester.RequestPort(name)
	}
	p := n.Port(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrPortNotFound, n.Name(), name)
	}
	return p, nil
}

func releaseRequested(n Node, name string, p *Port) {
	if !strings.Contains(name, "%") {
		return
	}
	if requester, ok := n.(PortRequester); ok {
		_ = requester.ReleasePort(p)
	}
}
