package elements

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

// feeder returns an active, unowned output port linked to sink.
func feeder(t *testing.T, caps pipeline.Caps, sink *pipeline.Port) *pipeline.Port {
	t.Helper()
	p := pipeline.NewPort("feed", pipeline.DirectionOutput, caps)
	p.SetActive(true)
	require.NoError(t, p.Link(sink))
	return p
}

func setState(t *testing.T, target pipeline.State, nodes ...pipeline.Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, pipeline.SetState(context.Background(), n, target))
	}
}

func teardown(t *testing.T, nodes ...pipeline.Node) {
	t.Cleanup(func() {
		for _, n := range nodes {
			_ = pipeline.SetState(context.Background(), n, pipeline.StateNull)
		}
	})
}
