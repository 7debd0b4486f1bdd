package types

import (
	"fmt"
	"strings"
)

// CompositeDefinition describes how a composite node is assembled from
// registered node types.
type CompositeDefinition struct {
	Composite  CompositeInfo        `json:"composite"`
	Nodes      []NodeDefinition     `json:"nodes"`
	Chains     [][]string           `json:"chains,omitempty"`
	Links      []LinkDefinition     `json:"links,omitempty"`
	Proxies    []ProxyDefinition    `json:"proxies"`
	Properties []PropertyDefinition `json:"properties,omitempty"`
	Routing    *RoutingDefinition   `json:"routing,omitempty"`
	Bridge     *BridgeDefinition    `json:"bridge,omitempty"`
	Handoff    []string             `json:"handoff,omitempty"`
}

type CompositeInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type NodeDefinition struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// LinkDefinition connects two named ports given as "node.port". A port
// name containing '%' is requested from the node.
type LinkDefinition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ProxyDirection string

const (
	ProxySrc  ProxyDirection = "src"
	ProxySink ProxyDirection = "sink"
)

type ProxyDefinition struct {
	Name      string         `json:"name"`
	Direction ProxyDirection `json:"direction"`
	Caps      string         `json:"caps,omitempty"`
	Target    string         `json:"target"`
}

// PropertyDefinition declares a composite property. Target names the
// "node.property" the value is forwarded to; the bridge property has none.
type PropertyDefinition struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Default     any    `json:"default"`
	Min         int64  `json:"min,omitempty"`
	Max         int64  `json:"max,omitempty"`
	Description string `json:"description,omitempty"`
	Target      string `json:"target,omitempty"`
}

type RoutingDefinition struct {
	Demuxer string            `json:"demuxer"`
	Routes  []RouteDefinition `json:"routes"`
}

type RouteDefinition struct {
	Category   string `json:"category"`
	Queue      string `json:"queue"`
	Target     string `json:"target"`
	TargetPort string `json:"target_port,omitempty"`
}

// BridgeDefinition attaches a serial ingestion bridge to an app-source node.
// Property is the composite property holding the device descriptor.
type BridgeDefinition struct {
	Source   string `json:"source"`
	Property string `json:"property"`
}

// SplitRef splits "node.port" at the first dot.
func SplitRef(ref string) (node, port string, err error) {
	node, port, ok := strings.Cut(ref, ".")
	if !ok || node == "" || port == "" {
		return "", "", fmt.Errorf("invalid reference %q, expected node.port", ref)
	}
	return node, port, nil
}

// NodeNames returns the declared node names in order.
func (d *CompositeDefinition) NodeNames() []string {
	names := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		names = append(names, n.Name)
	}
	return names
}

// CompositeSummary is the API view of a running composite.
type CompositeSummary struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Definition string            `json:"definition"`
	State      string            `json:"state"`
	Nodes      int               `json:"nodes"`
	Ports      []PortInfo        `json:"ports"`
	Routes     map[string]string `json:"routes,omitempty"`
	Unrouted   []string          `json:"unrouted,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type PortInfo struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Caps      string `json:"caps"`
	Target    string `json:"target,omitempty"`
	Linked    bool   `json:"linked"`
	Active    bool   `json:"active"`
}

type PropertyInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Value       any    `json:"value"`
	Default     any    `json:"default"`
	Description string `json:"description,omitempty"`
}
