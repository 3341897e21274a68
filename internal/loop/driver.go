// Package loop drives ingestion cycles repeatedly with durable
// checkpointing, a cooperative stop signal and exponential backoff.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"autolearn/internal/checkpoint"
	"autolearn/internal/logging"
	"autolearn/internal/planner"
)

// State is the driver's position in Idle -> Running -> Backoff(n) -> Running.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mode bounds how many cycles a run attempts.
type Mode struct {
	cycles int // 0 = unbounded
}

// Bounded attempts n cycles in this run, successful or not.
func Bounded(n int) Mode {
	if n < 1 {
		n = 1
	}
	return Mode{cycles: n}
}

// Unbounded runs until the stop signal or cancellation.
func Unbounded() Mode { return Mode{} }

func (m Mode) String() string {
	if m.cycles == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("bounded(%d)", m.cycles)
}

// Reason says why Run returned.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonStopped   Reason = "stop signal"
	ReasonCanceled  Reason = "canceled"
)

// Cycler runs one cycle given the accumulated notes.
type Cycler interface {
	Cycle(ctx context.Context, notes []string) (*planner.Result, error)
}

// CheckpointStore loads and saves loop progress.
type CheckpointStore interface {
	Load() (checkpoint.Checkpoint, error)
	Save(checkpoint.Checkpoint) error
}

// Config holds the driver's timing.
type Config struct {
	IdleInterval   time.Duration
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
}

// DefaultConfig returns 2s idle, 5s..300s backoff.
func DefaultConfig() Config {
	return Config{
		IdleInterval:   2 * time.Second,
		BackoffFloor:   5 * time.Second,
		BackoffCeiling: 300 * time.Second,
	}
}

// Summary describes a finished run.
type Summary struct {
	Attempts   int
	Succeeded  int
	Failed     int
	CycleCount int // total successful cycles, including previous runs
	Reason     Reason
}

// Option configures a Driver.
type Option func(*Driver)

// WithSleeper replaces the real timer, typically in tests.
func WithSleeper(s Sleeper) Option {
	return func(d *Driver) { d.sleeper = s }
}

// WithCycleHook registers fn to run after every successful cycle.
func WithCycleHook(fn func(cycle int, res *planner.Result)) Option {
	return func(d *Driver) { d.onCycle = fn }
}

// Driver runs cycles. A Driver must not Run concurrently with itself.
type Driver struct {
	cfg     Config
	cycler  Cycler
	ckpt    CheckpointStore
	stop    StopSignal
	sleeper Sleeper
	onCycle func(int, *planner.Result)

	mu       sync.Mutex
	state    State
	failures int
	cp       checkpoint.Checkpoint
}

// New creates a driver. stop may be nil, meaning never stopped.
func New(cfg Config, cycler Cycler, ckpt CheckpointStore, stop StopSignal, opts ...Option) *Driver {
	def := DefaultConfig()
	if cfg.IdleInterval < 0 {
		cfg.IdleInterval = 0
	}
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = def.BackoffFloor
	}
	if cfg.BackoffCeiling < cfg.BackoffFloor {
		cfg.BackoffCeiling = cfg.BackoffFloor
	}
	d := &Driver{
		cfg:     cfg,
		cycler:  cycler,
		ckpt:    ckpt,
		stop:    stop,
		sleeper: TimerSleeper{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state and consecutive failure count.
func (d *Driver) State() (State, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.failures
}

// Checkpoint returns a copy of the in-memory checkpoint.
func (d *Driver) Checkpoint() checkpoint.Checkpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cp.Clone()
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run loads the checkpoint and runs cycles until mode is exhausted, the
// stop signal is set or ctx is canceled. The checkpoint is saved before
// returning in every case. Cycle failures never end the run; only a
// checkpoint that cannot be read or a final save that fails is returned.
func (d *Driver) Run(ctx context.Context, mode Mode) (Summary, error) {
	cp, err := d.ckpt.Load()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	d.mu.Lock()
	d.cp = cp
	d.failures = 0
	d.state = StateIdle
	d.mu.Unlock()

	log := logging.Get(logging.CategoryLoop)
	log.Info("Loop starting: mode=%s cycle_count=%d notes=%d", mode, cp.CycleCount, len(cp.Notes))

	var wake <-chan struct{}
	if w, ok := d.stop.(Waker); ok {
		wake = w.Wake()
	}

	sum := Summary{}
	for {
		switch {
		case ctx.Err() != nil:
			sum.Reason = ReasonCanceled
		case d.stop != nil && d.stop.Stopped():
			sum.Reason = ReasonStopped
		case mode.cycles > 0 && sum.Attempts >= mode.cycles:
			sum.Reason = ReasonCompleted
		}
		if sum.Reason != "" {
			break
		}

		sum.Attempts++
		number := d.Checkpoint().CycleCount + 1
		d.setState(StateRunning)
		log.Info("Cycle %d starting", number)

		res, err := d.runCycle(ctx, number)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			sum.Reason = ReasonCanceled
			break
		}

		lastAttempt := mode.cycles > 0 && sum.Attempts >= mode.cycles
		var delay time.Duration
		if err != nil {
			sum.Failed++
			d.mu.Lock()
			d.failures++
			n := d.failures
			d.state = StateBackoff
			d.mu.Unlock()

			delay = BackoffFor(n, d.cfg.BackoffFloor, d.cfg.BackoffCeiling)
			var stack string
			var ce *CycleError
			if errors.As(err, &ce) {
				stack = ce.Stack
			}
			log.Errorw("cycle failed",
				"cycle", number,
				"error", err.Error(),
				"consecutive_failures", n,
				"backoff", delay,
				"stack", stack,
			)
		} else {
			sum.Succeeded++
			d.commit(res)
			d.mu.Lock()
			d.failures = 0
			d.state = StateIdle
			d.mu.Unlock()
			delay = d.cfg.IdleInterval
			if d.onCycle != nil {
				d.onCycle(number, res)
			}
		}

		if lastAttempt {
			continue
		}
		if err := d.sleeper.Sleep(ctx, delay, wake); err != nil {
			sum.Reason = ReasonCanceled
			break
		}
	}

	d.setState(StateIdle)
	final := d.Checkpoint()
	sum.CycleCount = final.CycleCount
	if err := d.ckpt.Save(final); err != nil {
		return sum, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	log.Info("Loop finished: reason=%s attempts=%d succeeded=%d failed=%d cycle_count=%d",
		sum.Reason, sum.Attempts, sum.Succeeded, sum.Failed, sum.CycleCount)
	return sum, nil
}

// runCycle calls the cycler, turning errors and panics into *CycleError.
func (d *Driver) runCycle(ctx context.Context, number int) (res *planner.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &CycleError{Cycle: number, Err: fmt.Errorf("panic: %v", r), Stack: string(debug.Stack())}
		}
	}()

	notes := d.Checkpoint().Notes
	res, err = d.cycler.Cycle(ctx, notes)
	if err != nil {
		return nil, &CycleError{Cycle: number, Err: err, Stack: string(debug.Stack())}
	}
	if res == nil {
		res = &planner.Result{}
	}
	return res, nil
}

// commit records a successful cycle and saves the checkpoint. A failed save
// is logged; the in-memory checkpoint is saved again at the next success
// and on exit.
func (d *Driver) commit(res *planner.Result) {
	d.mu.Lock()
	if res.Note != "" {
		d.cp.Notes = append(d.cp.Notes, res.Note)
	}
	d.cp.CycleCount++
	snapshot := d.cp.Clone()
	d.mu.Unlock()

	if err := d.ckpt.Save(snapshot); err != nil {
		logging.Get(logging.CategoryLoop).Error("Failed to save checkpoint after cycle %d: %v", snapshot.CycleCount, err)
		return
	}
	logging.Loop("Cycle %d done: kept=%d rejected=%d insight=%v note=%q",
		snapshot.CycleCount, len(res.Kept), res.Rejected, res.Insight != nil, res.Note)
}
