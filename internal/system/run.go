package system

import (
	"context"

	"autolearn/internal/logging"
	"autolearn/internal/loop"
)

// Mode picks the run mode: cycles > 0 bounds the run, otherwise the
// configured loop.max_cycles applies, and 0 there means unbounded.
func (s *System) Mode(cycles int) loop.Mode {
	if cycles <= 0 {
		cycles = s.Config.Loop.MaxCycles
	}
	if cycles > 0 {
		return loop.Bounded(cycles)
	}
	return loop.Unbounded()
}

// Run starts the stop-file watcher and drives cycles until mode is
// exhausted, the stop file appears or ctx is canceled.
func (s *System) Run(ctx context.Context, mode loop.Mode) (loop.Summary, error) {
	if s.Stop != nil {
		if err := s.Stop.Start(ctx); err != nil {
			logging.Get(logging.CategoryLoop).Warn("Stop file watcher unavailable, polling only: %v", err)
		}
		defer s.Stop.Stop()
	}
	return s.Driver.Run(ctx, mode)
}
