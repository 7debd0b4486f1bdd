package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/api/rest"
	"github.com/KevinKickass/OpenMediaCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMediaCore/internal/bins"
	"github.com/KevinKickass/OpenMediaCore/internal/config"
	"github.com/KevinKickass/OpenMediaCore/internal/elements"
	"github.com/KevinKickass/OpenMediaCore/internal/interfaces"
	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/KevinKickass/OpenMediaCore/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// instance is one configured composite hosted in its own top-level bin.
type instance struct {
	name  string
	comp  *bins.Composite
	top   *pipeline.Bin
	sinks map[string]*elements.AppSink
}

type LifecycleManager struct {
	config   *config.Config
	loader   *bins.DefinitionLoader
	composer *bins.Composer
	metrics  *metrics.Metrics
	logger   *zap.Logger

	wsHub      *websocket.Hub
	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState

	mu        sync.RWMutex
	instances map[string]*instance
	order     []string
	failed    map[string]error

	errs chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// Option customises a LifecycleManager.
type Option func(*bins.Options)

// WithDeviceOpener replaces the function used to open serial devices.
func WithDeviceOpener(open bins.DeviceOpener) Option {
	return func(o *bins.Options) {
		o.OpenDevice = open
	}
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger, opts ...Option) (*LifecycleManager, error) {
	loader, err := bins.NewDefinitionLoader(cfg.Definitions.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition loader: %w", err)
	}

	composerOpts := bins.Options{
		LegacyFallthrough: cfg.Lifecycle.LegacyFallthrough,
		QueueCapacity:     cfg.Router.QueueCapacity,
		UnitSize:          cfg.Serial.UnitSize,
		UnitDuration:      cfg.Serial.UnitDuration,
	}
	for _, opt := range opts {
		opt(&composerOpts)
	}

	m := metrics.New()
	registry := elements.NewRegistry(logger.Named("elements"))
	ctx, cancel := context.WithCancel(context.Background())

	return &LifecycleManager{
		config:       cfg,
		loader:       loader,
		composer:     bins.NewComposer(registry, loader, logger.Named("composer"), m, composerOpts),
		metrics:      m,
		logger:       logger,
		wsHub:        websocket.NewHub(logger.Named("websocket")),
		currentState: StateInitializing,
		instances:    make(map[string]*instance),
		failed:       make(map[string]error),
		errs:         make(chan error, 16),
		ctx:          ctx,
		cancel:       cancel,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start builds every configured composite, starts the API servers and,
// when autostart is set, drives all composites to PLAYING. A construction
// failure aborts the start and is returned as a *pipeline.ConstructionError.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenMediaCore",
		zap.Int("composites", len(lm.config.Composites)),
		zap.Strings("definitions", lm.loader.Names()))

	for _, cc := range lm.config.Composites {
		if err := lm.addComposite(cc); err != nil {
			lm.setError()
			return err
		}
	}

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.wsHub.Run(lm.ctx)
	}()

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.metrics.Handler(lm.updateGauges))
	if err := lm.restServer.Start(); err != nil {
		lm.setError()
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	if lm.config.Lifecycle.Autostart {
		for _, name := range lm.names() {
			if err := lm.SetCompositeState(lm.ctx, name, pipeline.StatePlaying); err != nil {
				lm.setError()
				return fmt.Errorf("failed to start composite %s: %w", name, err)
			}
		}
	}

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("autostart", lm.config.Lifecycle.Autostart))
	return nil
}

func (lm *LifecycleManager) addComposite(cc config.CompositeConfig) error {
	comp, err := lm.composer.Compose(cc.Name, cc.Definition)
	if err != nil {
		return err
	}

	for property, value := range cc.Properties {
		if err := comp.SetProperty(property, value); err != nil {
			comp.Close()
			return fmt.Errorf("composite %s: %w", cc.Name, err)
		}
	}

	inst, err := lm.host(comp)
	if err != nil {
		comp.Close()
		return fmt.Errorf("composite %s: %w", cc.Name, err)
	}

	lm.mu.Lock()
	lm.instances[cc.Name] = inst
	lm.order = append(lm.order, cc.Name)
	lm.mu.Unlock()

	messages := comp.Bus().Subscribe(256)
	lm.wg.Add(1)
	go lm.watch(inst, messages)

	lm.logger.Info("Composite ready",
		zap.String("composite", cc.Name),
		zap.String("definition", cc.Definition),
		zap.Int("sinks", len(inst.sinks)))
	return nil
}

// host wraps comp in a top-level bin and terminates every unlinked output
// proxy in an app-sink.
func (lm *LifecycleManager) host(comp *bins.Composite) (*instance, error) {
	inst := &instance{
		name:  comp.Name(),
		comp:  comp,
		top:   pipeline.NewBin(comp.Name() + "-pipeline"),
		sinks: make(map[string]*elements.AppSink),
	}
	if err := inst.top.Add(comp); err != nil {
		return nil, err
	}

	for _, pp := range comp.ProxyPorts() {
		if pp.Direction() != pipeline.DirectionOutput || pp.IsLinked() {
			continue
		}
		sink := elements.NewAppSink(pp.Name()+"-sink", lm.logger.Named(comp.Name()))
		if err := inst.top.Add(sink); err != nil {
			return nil, err
		}
		if err := pp.Link(sink.Port("sink")); err != nil {
			return nil, fmt.Errorf("attach sink to %s: %w", pp.Name(), err)
		}
		inst.sinks[pp.Name()] = sink
	}
	return inst, nil
}

// watch forwards bus messages to websocket clients and reports routing
// failures.
func (lm *LifecycleManager) watch(inst *instance, messages <-chan pipeline.Message) {
	defer lm.wg.Done()

	for {
		select {
		case <-lm.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			lm.wsHub.Broadcast(websocket.NewBusMessage(inst.name, msg))

			if msg.Type != pipeline.MessageError || msg.Err == nil {
				continue
			}
			lm.logger.Error("Composite failed",
				zap.String("composite", inst.name),
				zap.String("source", msg.Source),
				zap.Error(msg.Err))

			lm.mu.Lock()
			if _, seen := lm.failed[inst.name]; !seen {
				lm.failed[inst.name] = msg.Err
			}
			lm.mu.Unlock()

			select {
			case lm.errs <- msg.Err:
			default:
			}
		}
	}
}

// Errors delivers fatal composite failures, such as a routing link that
// could not be made.
func (lm *LifecycleManager) Errors() <-chan error {
	return lm.errs
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) names() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	names := make([]string, len(lm.order))
	copy(names, lm.order)
	return names
}

func (lm *LifecycleManager) lookup(name string) (*instance, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	inst, ok := lm.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrCompositeNotFound, name)
	}
	return inst, nil
}

// Composite returns the named composite instance.
func (lm *LifecycleManager) Composite(name string) (*bins.Composite, error) {
	inst, err := lm.lookup(name)
	if err != nil {
		return nil, err
	}
	return inst.comp, nil
}

// Sink returns the app-sink attached to an output proxy of a composite.
func (lm *LifecycleManager) Sink(name, proxy string) (*elements.AppSink, error) {
	inst, err := lm.lookup(name)
	if err != nil {
		return nil, err
	}
	sink, ok := inst.sinks[proxy]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", pipeline.ErrPortNotFound, name, proxy)
	}
	return sink, nil
}

func (lm *LifecycleManager) ListComposites() []types.CompositeSummary {
	names := lm.names()
	out := make([]types.CompositeSummary, 0, len(names))
	for _, name := range names {
		if inst, err := lm.lookup(name); err == nil {
			out = append(out, inst.comp.Summary())
		}
	}
	return out
}

func (lm *LifecycleManager) GetComposite(name string) (types.CompositeSummary, error) {
	inst, err := lm.lookup(name)
	if err != nil {
		return types.CompositeSummary{}, err
	}
	return inst.comp.Summary(), nil
}

// SetCompositeState drives the composite's top-level bin, including the
// sinks attached to it, to state.
func (lm *LifecycleManager) SetCompositeState(ctx context.Context, name string, state pipeline.State) error {
	inst, err := lm.lookup(name)
	if err != nil {
		return err
	}

	lm.logger.Info("Changing composite state",
		zap.String("composite", name),
		zap.String("from", inst.comp.State().String()),
		zap.String("to", state.String()))

	err = pipeline.SetState(ctx, inst.top, state)
	lm.updateGauges()
	lm.broadcastStatus()
	return err
}

func (lm *LifecycleManager) CompositeProperties(name string) ([]types.PropertyInfo, error) {
	inst, err := lm.lookup(name)
	if err != nil {
		return nil, err
	}
	return inst.comp.Properties(), nil
}

func (lm *LifecycleManager) SetCompositeProperty(name, property string, value any) error {
	inst, err := lm.lookup(name)
	if err != nil {
		return err
	}
	return inst.comp.SetProperty(property, value)
}

func (lm *LifecycleManager) EndOfStream(name string) error {
	inst, err := lm.lookup(name)
	if err != nil {
		return err
	}
	lm.logger.Info("Ending stream", zap.String("composite", name))
	return inst.comp.EndOfStream()
}

// EndOfStreamAll ends the stream of every composite that has a serial
// bridge.
func (lm *LifecycleManager) EndOfStreamAll() error {
	var err error
	for _, name := range lm.names() {
		err = multierr.Append(err, lm.EndOfStream(name))
	}
	return err
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Metrics() *metrics.Metrics {
	return lm.metrics
}

func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{
		State:       lm.state().String(),
		Definitions: lm.loader.Names(),
	}

	for _, summary := range lm.ListComposites() {
		status.CompositeCount++
		if summary.State == pipeline.StatePlaying.String() {
			status.PlayingComposites++
		}
	}

	lm.mu.RLock()
	for name := range lm.failed {
		status.FailedComposites = append(status.FailedComposites, name)
	}
	lm.mu.RUnlock()
	return status
}

func (lm *LifecycleManager) updateGauges() {
	playing := 0
	for _, name := range lm.names() {
		if inst, err := lm.lookup(name); err == nil && inst.comp.State() == pipeline.StatePlaying {
			playing++
		}
	}
	lm.metrics.SetActiveComposites(playing)
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// Shutdown ends bridged streams, stops the API server and drives every
// composite to NULL in parallel before closing it.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		lm.cancel()
		lm.wg.Wait()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	if eosErr := lm.EndOfStreamAll(); eosErr != nil {
		lm.logger.Warn("End of stream during shutdown failed", zap.Error(eosErr))
	}

	var err error
	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = multierr.Append(err, lm.restServer.Shutdown(shutdownCtx))
		cancel()
	}

	var g errgroup.Group
	for _, name := range lm.names() {
		inst, lookupErr := lm.lookup(name)
		if lookupErr != nil {
			continue
		}
		g.Go(func() error {
			stopErr := pipeline.SetState(ctx, inst.top, pipeline.StateNull)
			closeErr := inst.top.Close()
			if err := multierr.Append(stopErr, closeErr); err != nil {
				return fmt.Errorf("stop composite %s: %w", inst.name, err)
			}
			return nil
		})
	}
	err = multierr.Append(err, g.Wait())

	lm.metrics.SetActiveComposites(0)

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = multierr.Append(err, fmt.Errorf("shutdown timeout exceeded: %w", ctxErr))
	}

	if err != nil {
		lm.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) state() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError() {
	lm.setState(StateError)
}
