// Package in holds the pipeline's inbound port: the operations the CLI
// drives against the daemon controller.
package in

import "context"

// CycleResult summarizes one daemon cycle for the `status` CLI and logs.
type CycleResult struct {
	MessagesFetched  int
	MessagesWritten  int
	MessagesSkipped  int
	MessagesDLQed    int
	LastMessageID    string
}

// PipelineController is the daemon's externally-driven surface.
type PipelineController interface {
	// RunCycle processes every message currently after the cursor, once.
	RunCycle(ctx context.Context) (CycleResult, error)
	// RunDaemon loops RunCycle at the given interval until ctx is
	// cancelled or a shutdown signal is observed.
	RunDaemon(ctx context.Context) error
}
