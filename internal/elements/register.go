package elements

import (
	"github.com/KevinKickass/OpenMediaCore/internal/pipeline"
	"go.uber.org/zap"
)

// RegisterAll adds every built-in node type to r.
func RegisterAll(r *pipeline.Registry, logger *zap.Logger) {
	for _, spec := range transforms {
		r.Register(spec.TypeName, func(name string) (pipeline.Node, error) {
			return NewTransform(spec, name, logger), nil
		})
	}

	r.Register("caps-filter", func(name string) (pipeline.Node, error) {
		return NewCapsFilter(name, logger), nil
	})
	r.Register("identity", func(name string) (pipeline.Node, error) {
		return NewIdentity(name, logger), nil
	})
	r.Register("queue", func(name string) (pipeline.Node, error) {
		return NewQueue(name, logger), nil
	})
	r.Register("udp-source", func(name string) (pipeline.Node, error) {
		return NewUDPSource(name, logger), nil
	})
	r.Register("udp-sink", func(name string) (pipeline.Node, error) {
		return NewUDPSink(name, logger), nil
	})
	r.Register("demuxer", func(name string) (pipeline.Node, error) {
		return NewDemuxer(name, logger), nil
	})
	r.Register("muxer", func(name string) (pipeline.Node, error) {
		return NewMuxer(name, logger), nil
	})
	r.Register("app-source", func(name string) (pipeline.Node, error) {
		return NewAppSource(name, logger), nil
	})
	r.Register("app-sink", func(name string) (pipeline.Node, error) {
		return NewAppSink(name, logger), nil
	})
}

// NewRegistry returns a registry populated with the built-in node types.
func NewRegistry(logger *zap.Logger) *pipeline.Registry {
	r := pipeline.NewRegistry()
	RegisterAll(r, logger)
	return r
}
