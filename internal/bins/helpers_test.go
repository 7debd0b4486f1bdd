package bins

import (
	"context"
	"testing"

	"github.com/KevinKickass/OpenMediaCore/internal/elements"
	"github.com/KevinKickass/OpenMediaCore/internal/metrics"
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newComposer(t *testing.T, logger *zap.Logger, opts Options) *Composer {
	t.Helper()
	loader, err := NewDefinitionLoader(nil)
	require.NoError(t, err)
	return NewComposer(elements.NewRegistry(logger), loader, logger, metrics.New(), opts)
}

// host wraps comp in a top-level bin and attaches an app-sink to each
// named output proxy.
func host(t *testing.T, comp *Composite, outputs ...string) (*pipeline.Bin, map[string]*elements.AppSink) {
	t.Helper()
	top := pipeline.NewBin("pipeline")
	require.NoError(t, top.Add(comp))

	sinks := make(map[string]*elements.AppSink, len(outputs))
	for _, out := range outputs {
		sink := elements.NewAppSink(out+"-sink", zap.NewNop())
		require.NoError(t, top.Add(sink))
		require.NoError(t, comp.Port(out).Link(sink.Port("sink")))
		sinks[out] = sink
	}

	t.Cleanup(func() {
		_ = pipeline.SetState(context.Background(), top, pipeline.StateNull)
		_ = top.Close()
	})
	return top, sinks
}

func setState(t *testing.T, n pipeline.Node, target pipeline.State) {
	t.Helper()
	require.NoError(t, pipeline.SetState(context.Background(), n, target))
}
