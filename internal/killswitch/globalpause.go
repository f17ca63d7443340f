package killswitch

import "sync/atomic"

// GlobalPause is a process-wide emergency stop, distinct from the
// per-conversation pause flag Checker reads from Redis/Postgres: an
// operator drops (or removes) a sentinel file on disk, cmd/pipelineworker
// watches it with fsnotify, and every drain iteration on the box
// short-circuits immediately without touching Redis or Postgres at all.
// It exists for the case the per-conversation path can't help with: both
// data stores degraded and an operator needs every worker on the machine
// to stop acting right now.
type GlobalPause struct {
	paused atomic.Bool
}

// NewGlobalPause returns a GlobalPause starting in the not-paused state.
func NewGlobalPause() *GlobalPause {
	return &GlobalPause{}
}

// Set updates the pause state. Called by cmd/pipelineworker's fsnotify
// watcher when the sentinel file is created, removed, or already present
// at startup.
func (g *GlobalPause) Set(paused bool) {
	g.paused.Store(paused)
}

// IsPaused reports the current state without any I/O.
func (g *GlobalPause) IsPaused() bool {
	return g.paused.Load()
}
