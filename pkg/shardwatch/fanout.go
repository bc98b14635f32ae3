package shardwatch

import (
	"context"

	"github.com/edgeflare/pgo/pkg/pipeline"
	"github.com/edgeflare/pgo/pkg/pipeline/cdc"
)

// FanoutCallback bridges db_change events into an already-configured
// pipeline fan-out: every change row is run through Pipeline's source and
// pipeline transformations and distributed to SinkChannels exactly like a
// CDC event arriving from any other pipeline source.
type FanoutCallback struct {
	NopCallback
	Pipeline     pipeline.Pipeline
	Source       pipeline.Source
	SinkChannels map[string]chan cdc.Event
}

// DBChange implements Callback.
func (f *FanoutCallback) DBChange(_ context.Context, _ ShardName, row Row, userCtx any) any {
	pipeline.ProcessEvent(f.Pipeline, f.Source, row.Event, f.SinkChannels)
	return userCtx
}
