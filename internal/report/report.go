// Package report exposes the sampling pipeline to operators: a console line,
// a websocket state stream, Prometheus metrics and a small HTTP API.
//
// Every reporter is a reader. They only consume Snapshot values and never
// touch the history directly.
package report

import "lightmeter/internal/sampling"

// SnapshotSource is implemented by *sampling.Sampler.
type SnapshotSource interface {
	Snapshot() sampling.Snapshot
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func() sampling.Snapshot

func (f SnapshotFunc) Snapshot() sampling.Snapshot { return f() }
