package rewriter

import (
	"context"
	"net/url"

	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine"
	"github.com/sunbk201/speedreader/internal/engine/heuristics"
	"github.com/sunbk201/speedreader/internal/engine/streaming"
)

// NewBuilder returns the Builder for the engines in this module.
func NewBuilder(opts engine.Options) Builder {
	return func(ctx context.Context, u *url.URL, typ common.RewriterType, config []byte, sink Sink) (Engine, error) {
		switch typ {
		case common.RewriterStreaming:
			e, err := streaming.New(config, opts, sink)
			if err != nil {
				return nil, err
			}
			return e, nil
		case common.RewriterHeuristics:
			return heuristics.New(ctx, u, opts, sink), nil
		default:
			return nil, ErrUnknownType
		}
	}
}
