package router

import (
	"errors"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

type Category string

const (
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
	CategoryText  Category = "text"
)

// Prefix maps a port-name prefix to a category. Order matters: the first
// matching prefix wins.
type Prefix struct {
	Prefix   string
	Category Category
}

// DefaultPrefixes is the classification order used by demultiplexing
// composites.
var DefaultPrefixes = []Prefix{
	{Prefix: "video", Category: CategoryVideo},
	{Prefix: "audio", Category: CategoryAudio},
	{Prefix: "subtitle", Category: CategoryText},
}

var (
	errAlreadyRouted = errors.New("category already routed")
	errNoRoute       = errors.New("no route for category")
	errUnclassified  = errors.New("no matching prefix")
)

// Classify returns the category of a port name using DefaultPrefixes.
func Classify(name string) (Category, bool) {
	return classify(DefaultPrefixes, name)
}

func classify(prefixes []Prefix, name string) (Category, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p.Prefix) {
			return p.Category, true
		}
	}
	return "", false
}

// Route is the downstream chain for one category: discovered ports are
// linked into Queue, and Queue's output into Target.TargetPort.
type Route struct {
	Category   Category
	Queue      pipeline.Node
	Target     pipeline.Node
	TargetPort string
}

// Router links ports that a demultiplexer discovers at run time into the
// pre-built chain for their category.
type Router struct {
	owner   pipeline.Node
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	prefixes []Prefix
	routes   map[Category]Route
	routed   map[Category]string
	unrouted []string
	err      error
}

// New creates a router for owner. Diagnostics are posted through owner.
func New(owner pipeline.Node, routes []Route, logger *zap.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		owner:    owner,
		logger:   logger,
		metrics:  m,
		prefixes: DefaultPrefixes,
		routes:   make(map[Category]Route, len(routes)),
		routed:   make(map[Category]string),
	}
	for _, route := range routes {
		if route.TargetPort == "" {
			route.TargetPort = "sink"
		}
		r.routes[route.Category] = route
	}
	return r
}

type portNotifier interface {
	OnPortAdded(f pipeline.PortAddedFunc)
}

// Attach registers the router as a port-added listener on demux.
func (r *Router) Attach(demux pipeline.Node) error {
	notifier, ok := demux.(portNotifier)
	if !ok {
		return errors.New(demux.Name() + " does not announce ports")
	}
	notifier.OnPortAdded(r.PortAdded)
	return nil
}

// PortAdded classifies p and links it into the matching route.
func (r *Router) PortAdded(_ pipeline.Node, p *pipeline.Port) {
	if p.Direction() != pipeline.DirectionOutput {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	category, ok := classify(r.prefixes, p.Name())
	if !ok {
		r.reportUnrouted(p, "", errUnclassified)
		return
	}
	route, ok := r.routes[category]
	if !ok {
		r.reportUnrouted(p, category, errNoRoute)
		return
	}
	if existing, ok := r.routed[category]; ok {
		r.reportUnrouted(p, category, errAlreadyRouted)
		r.logger.Debug("Category routed earlier", zap.String("port", existing))
		return
	}

	if err := r.link(p, route); err != nil {
		r.fail(err)
		return
	}
	r.routed[category] = p.Name()

	r.logger.Info("Routed discovered port",
		zap.String("composite", r.owner.Name()),
		zap.String("port", p.Name()),
		zap.String("category", string(category)),
		zap.String("queue", route.Queue.Name()))
	r.metrics.IncRoute(r.owner.Name(), string(category))
	r.owner.PostMessage(pipeline.Message{
		Type: pipeline.MessageRouted,
		Data: pipeline.RouteData{
			Port:     p.Name(),
			Category: string(category),
			Target:   route.Queue.Name(),
		},
	})
}

func (r *Router) link(p *pipeline.Port, route Route) error {
	composite := r.owner.Name()

	queueSink, err := pipeline.ResolvePort(route.Queue, "sink")
	if err != nil {
		return pipeline.NewConstructionError(pipeline.ClassPortLookup, composite, "resolve "+route.Queue.Name()+".sink", err)
	}
	if err := p.Link(queueSink); err != nil {
		return pipeline.NewConstructionError(pipeline.ClassPadLink, composite, "link "+p.Name(), err)
	}
	if err := pipeline.LinkPorts(route.Queue, "src", route.Target, route.TargetPort); err != nil {
		p.Unlink()
		return pipeline.NewConstructionError(pipeline.ClassPadLink, composite, "link "+route.Queue.Name(), err)
	}
	return nil
}

func (r *Router) fail(err error) {
	if r.err == nil {
		r.err = err
	}

	class := ""
	if ce, ok := pipeline.AsConstructionError(err); ok {
		class = ce.Class.String()
	}
	r.logger.Error("Routing failed",
		zap.String("composite", r.owner.Name()),
		zap.Error(err))
	r.metrics.IncConstructionError(class)
	r.owner.PostMessage(pipeline.Message{
		Type: pipeline.MessageError,
		Data: err.Error(),
		Err:  err,
	})
}

func (r *Router) reportUnrouted(p *pipeline.Port, category Category, reason error) {
	r.unrouted = append(r.unrouted, p.Name())

	r.logger.Warn("Discovered port not routed",
		zap.String("composite", r.owner.Name()),
		zap.String("port", p.Name()),
		zap.String("caps", p.Caps().String()),
		zap.String("reason", reason.Error()))
	r.metrics.IncUnrouted(r.owner.Name())
	r.owner.PostMessage(pipeline.Message{
		Type: pipeline.MessageUnrouted,
		Data: pipeline.RouteData{
			Port:     p.Name(),
			Category: string(category),
			Reason:   reason.Error(),
		},
	})
}

// Err returns the first routing failure, if any.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Routed returns the port linked for each category so far.
func (r *Router) Routed() map[Category]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Category]string, len(r.routed))
	for c, port := range r.routed {
		out[c] = port
	}
	return out
}

// Unrouted returns the names of discovered ports that were not linked.
func (r *Router) Unrouted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.unrouted))
	copy(out, r.unrouted)
	return out
}
