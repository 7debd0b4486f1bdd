package bins

import (
	"fmt"
	"io"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/elements"
	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/router"
	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/KevinKickass/OpenMediaCore/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DeviceOpener opens the serial line described by d.
type DeviceOpener func(d serial.Descriptor) (io.ReadCloser, error)

func openDevice(d serial.Descriptor) (io.ReadCloser, error) {
	return serial.OpenDevice(d)
}

type Options struct {
	LegacyFallthrough bool
	QueueCapacity     int
	UnitSize          int
	UnitDuration      time.Duration
	OpenDevice        DeviceOpener
}

// Composer builds composites from definitions.
type Composer struct {
	registry *pipeline.Registry
	loader   *DefinitionLoader
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
}

func NewComposer(registry *pipeline.Registry, loader *DefinitionLoader, logger *zap.Logger, m *metrics.Metrics, opts Options) *Composer {
	if opts.OpenDevice == nil {
		opts.OpenDevice = openDevice
	}
	return &Composer{
		registry: registry,
		loader:   loader,
		logger:   logger,
		metrics:  m,
		opts:     opts,
	}
}

// Compose loads the named definition and builds an instance called name.
func (c *Composer) Compose(name, definition string) (*Composite, error) {
	def, err := c.loader.Load(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", definition, err)
	}
	return c.ComposeDefinition(name, def)
}

// ComposeDefinition builds an instance of def. Any failure aborts the whole
// construction with a *pipeline.ConstructionError.
func (c *Composer) ComposeDefinition(name string, def *types.CompositeDefinition) (*Composite, error) {
	c.logger.Info("Composing composite",
		zap.String("name", name),
		zap.String("definition", def.Composite.Name),
		zap.Int("nodes", len(def.Nodes)))

	comp, err := c.build(name, def)
	if err != nil {
		if ce, ok := pipeline.AsConstructionError(err); ok {
			c.metrics.IncConstructionError(ce.Class.String())
		}
		c.logger.Error("Composite construction failed",
			zap.String("name", name),
			zap.Error(err))
		return nil, err
	}

	c.logger.Info("Composite ready",
		zap.String("name", name),
		zap.Int("proxies", len(comp.ProxyPorts())))
	return comp, nil
}

func (c *Composer) build(name string, def *types.CompositeDefinition) (*Composite, error) {
	comp := newComposite(name, def, c.logger.Named(name), c.metrics, c.opts.LegacyFallthrough)
	fail := func(class pipeline.ErrorClass, op string, err error) error {
		return pipeline.NewConstructionError(class, name, op, err)
	}

	nodes, err := c.createNodes(def)
	if err != nil {
		return nil, fail(pipeline.ClassCreation, "create nodes", err)
	}
	if err := c.configureNodes(def, nodes); err != nil {
		return nil, fail(pipeline.ClassCreation, "configure nodes", err)
	}

	ordered := make([]pipeline.Node, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		ordered = append(ordered, nodes[n.Name])
	}
	if err := comp.Add(ordered...); err != nil {
		return nil, fail(pipeline.ClassCreation, "add nodes", err)
	}

	for _, chain := range def.Chains {
		members := make([]pipeline.Node, 0, len(chain))
		for _, n := range chain {
			members = append(members, nodes[n])
		}
		if err := pipeline.LinkChain(members...); err != nil {
			return nil, fail(pipeline.ClassLink, fmt.Sprintf("link %v", chain), err)
		}
	}

	for _, l := range def.Links {
		if err := linkPorts(name, nodes, l); err != nil {
			return nil, err
		}
	}

	if err := c.exposeProxies(comp, def, nodes); err != nil {
		return nil, err
	}

	if def.Routing != nil {
		if err := c.attachRouter(comp, def.Routing, nodes); err != nil {
			return nil, err
		}
	}

	for _, n := range def.Handoff {
		id, ok := nodes[n].(*elements.Identity)
		if !ok {
			return nil, fail(pipeline.ClassCreation, "handoff "+n, fmt.Errorf("%s is not an identity node", n))
		}
		id.OnHandoff(comp.logHandoff)
	}

	if def.Bridge != nil {
		if err := c.attachBridge(comp, def.Bridge, nodes); err != nil {
			return nil, err
		}
	}

	if err := c.installProperties(comp, def, nodes); err != nil {
		return nil, err
	}
	return comp, nil
}

// createNodes instantiates every declared node before checking any result.
func (c *Composer) createNodes(def *types.CompositeDefinition) (map[string]pipeline.Node, error) {
	nodes := make(map[string]pipeline.Node, len(def.Nodes))
	var errs error
	for _, nd := range def.Nodes {
		n, err := c.registry.Create(nd.Type, nd.Name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		nodes[nd.Name] = n
	}
	return nodes, errs
}

func (c *Composer) configureNodes(def *types.CompositeDefinition, nodes map[string]pipeline.Node) error {
	for _, nd := range def.Nodes {
		n := nodes[nd.Name]
		if _, explicit := nd.Properties["max-size-buffers"]; nd.Type == "queue" && !explicit && c.opts.QueueCapacity > 0 {
			if err := n.SetProperty("max-size-buffers", c.opts.QueueCapacity); err != nil {
				return err
			}
		}
		for key, value := range nd.Properties {
			if err := n.SetProperty(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkPorts(composite string, nodes map[string]pipeline.Node, l types.LinkDefinition) error {
	op := "link " + l.From + " -> " + l.To
	srcName, srcPort, err := types.SplitRef(l.From)
	if err != nil {
		return pipeline.NewConstructionError(pipeline.ClassPortLookup, composite, op, err)
	}
	dstName, dstPort, err := types.SplitRef(l.To)
	if err != nil {
		return pipeline.NewConstructionError(pipeline.ClassPortLookup, composite, op, err)
	}
	src, dst := nodes[srcName], nodes[dstName]
	if src == nil || dst == nil {
		return pipeline.NewConstructionError(pipeline.ClassPortLookup, composite, op, pipeline.ErrNodeNotFound)
	}
	if err := pipeline.LinkPorts(src, srcPort, dst, dstPort); err != nil {
		return pipeline.NewConstructionError(pipeline.ClassPadLink, composite, op, err)
	}
	return nil
}

func (c *Composer) exposeProxies(comp *Composite, def *types.CompositeDefinition, nodes map[string]pipeline.Node) error {
	name := comp.Name()

	for _, pd := range def.Proxies {
		var tmpl pipeline.PortTemplate
		switch pd.Direction {
		case types.ProxySrc:
			tmpl = pipeline.SrcTemplate
		case types.ProxySink:
			tmpl = pipeline.SinkTemplate
		default:
			tmpl = pipeline.PortTemplate{Name: string(pd.Direction), Direction: pipeline.Direction(pd.Direction)}
		}
		if pd.Caps != "" {
			tmpl.Caps = pipeline.Caps(pd.Caps)
		}

		pp, err := pipeline.NewProxyPort(pd.Name, tmpl)
		if err != nil {
			return pipeline.NewConstructionError(pipeline.ClassProxyCreate, name, "declare "+pd.Name, err)
		}

		nodeName, portName, err := types.SplitRef(pd.Target)
		if err != nil {
			return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "resolve "+pd.Target, err)
		}
		target, ok := nodes[nodeName]
		if !ok {
			return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "resolve "+pd.Target, pipeline.ErrNodeNotFound)
		}
		port := target.Port(portName)
		if port == nil {
			return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "resolve "+pd.Target,
				fmt.Errorf("%w: %s", pipeline.ErrPortNotFound, pd.Target))
		}

		if err := pp.Bind(port); err != nil {
			return pipeline.NewConstructionError(pipeline.ClassProxyBind, name, "bind "+pd.Name, err)
		}
		pp.SetPassThrough(true)
		if err := comp.AddProxyPort(pp); err != nil {
			return pipeline.NewConstructionError(pipeline.ClassProxyBind, name, "add "+pd.Name, err)
		}

		if err := pp.Activate(); err != nil {
			c.logger.Warn("Proxy port activation failed",
				zap.String("composite", name),
				zap.String("port", pd.Name),
				zap.Error(err))
			c.metrics.IncProxyActivationFailure(name)
		}
	}
	return nil
}

func (c *Composer) attachRouter(comp *Composite, rd *types.RoutingDefinition, nodes map[string]pipeline.Node) error {
	name := comp.Name()
	demux, ok := nodes[rd.Demuxer]
	if !ok {
		return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "routing "+rd.Demuxer, pipeline.ErrNodeNotFound)
	}

	routes := make([]router.Route, 0, len(rd.Routes))
	for _, r := range rd.Routes {
		queue, target := nodes[r.Queue], nodes[r.Target]
		if queue == nil || target == nil {
			return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "route "+r.Category, pipeline.ErrNodeNotFound)
		}
		routes = append(routes, router.Route{
			Category:   router.Category(r.Category),
			Queue:      queue,
			Target:     target,
			TargetPort: r.TargetPort,
		})
	}

	rt := router.New(comp, routes, c.logger.Named(name).Named("router"), c.metrics)
	if err := rt.Attach(demux); err != nil {
		return pipeline.NewConstructionError(pipeline.ClassCreation, name, "attach router", err)
	}

	comp.mu.Lock()
	comp.router = rt
	comp.mu.Unlock()
	return nil
}

func (c *Composer) attachBridge(comp *Composite, bd *types.BridgeDefinition, nodes map[string]pipeline.Node) error {
	src, ok := nodes[bd.Source].(*elements.AppSource)
	if !ok {
		return pipeline.NewConstructionError(pipeline.ClassCreation, comp.Name(), "bridge "+bd.Source,
			fmt.Errorf("%s is not an app-source node", bd.Source))
	}

	var opts []serial.BridgeOption
	if c.opts.UnitSize > 0 {
		opts = append(opts, serial.WithUnitSize(c.opts.UnitSize))
	}
	if c.opts.UnitDuration > 0 {
		opts = append(opts, serial.WithUnitDuration(c.opts.UnitDuration))
	}
	b := serial.NewBridge(comp.Name(), src, c.logger.Named(comp.Name()).Named("bridge"), c.metrics, opts...)
	src.OnNeedData(b.NeedData)

	comp.mu.Lock()
	comp.bridge = b
	comp.mu.Unlock()
	return nil
}

// installProperties declares the composite properties. Values are forwarded
// to their target node, including the defaults. The bridge property opens
// the serial device whenever it is set.
func (c *Composer) installProperties(comp *Composite, def *types.CompositeDefinition, nodes map[string]pipeline.Node) error {
	name := comp.Name()

	for _, pd := range def.Properties {
		spec := pipeline.PropertySpec{
			Name:        pd.Name,
			Kind:        pipeline.PropertyKind(pd.Kind),
			Default:     pd.Default,
			Min:         pd.Min,
			Max:         pd.Max,
			Description: pd.Description,
		}
		if _, err := spec.Coerce(pd.Default); err != nil {
			return pipeline.NewConstructionError(pipeline.ClassCreation, name, "property "+pd.Name, err)
		}

		if def.Bridge != nil && pd.Name == def.Bridge.Property {
			comp.InstallProperty(spec, c.deviceSetter(comp))
			continue
		}

		nodeName, propName, err := types.SplitRef(pd.Target)
		if err != nil {
			return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "property "+pd.Name, err)
		}
		target := nodes[nodeName]
		if target == nil {
			return pipeline.NewConstructionError(pipeline.ClassPortLookup, name, "property "+pd.Name, pipeline.ErrNodeNotFound)
		}

		forward := func(v any) error {
			return target.SetProperty(propName, v)
		}
		comp.InstallProperty(spec, forward)
		value, _ := comp.Property(pd.Name)
		if err := forward(value); err != nil {
			return pipeline.NewConstructionError(pipeline.ClassCreation, name, "property "+pd.Name, err)
		}
	}
	return nil
}

func (c *Composer) deviceSetter(comp *Composite) pipeline.PropertyChangeFunc {
	return func(v any) error {
		d, err := serial.ParseDescriptor(v.(string))
		if err != nil {
			return err
		}
		rc, err := c.opts.OpenDevice(d)
		if err != nil {
			return fmt.Errorf("open serial device: %w", err)
		}

		c.logger.Info("Serial device configured",
			zap.String("composite", comp.Name()),
			zap.String("device", d.Path),
			zap.Int("speed", d.Speed),
			zap.String("format", d.Format()))

		session := serial.NewSession(d.Path, rc, c.logger.Named(comp.Name()).Named("serial"), c.metrics)
		return comp.Bridge().SetSession(session)
	}
}
