// Package statistics keeps running tallies of proxied connections, rewrites
// and pass-throughs, and periodically dumps them to files in the log
// directory.
package statistics

import (
	"context"
	"time"
)

const dumpInterval = 5 * time.Second

type Recorder struct {
	Connections  *ConnectionRecordList
	Rewrites     *RewriteRecordList
	PassThroughs *PassThroughRecordList
}

// New creates a Recorder whose lists are dumped by path(name).
func New(path func(name string) string) *Recorder {
	return &Recorder{
		Connections:  NewConnectionRecordList(path("connections")),
		Rewrites:     NewRewriteRecordList(path("rewrites")),
		PassThroughs: NewPassThroughRecordList(path("passthroughs")),
	}
}

// Run starts the list workers until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	r.Connections.Run(ctx)
	r.Rewrites.Run(ctx)
	r.PassThroughs.Run(ctx)
}

func (r *Recorder) AddConnection(record *ConnectionRecord) {
	send(r.Connections.recordAddChan, record)
}

func (r *Recorder) RemoveConnection(record *ConnectionRecord) {
	send(r.Connections.recordRemoveChan, record)
}

func (r *Recorder) AddRewrite(record *RewriteRecord) {
	send(r.Rewrites.recordAddChan, record)
}

func (r *Recorder) AddPassThrough(record *PassThroughRecord) {
	send(r.PassThroughs.recordAddChan, record)
}

// Snapshot is the current state of all lists, as served by the API.
type Snapshot struct {
	Connections  []ConnectionRecord  `json:"connections"`
	Rewrites     []RewriteRecord     `json:"rewrites"`
	PassThroughs []PassThroughRecord `json:"passthroughs"`
}

func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		Connections:  r.Connections.List(),
		Rewrites:     r.Rewrites.List(),
		PassThroughs: r.PassThroughs.List(),
	}
}

// send drops the record when the worker is behind.
func send[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
