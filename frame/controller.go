// Package frame paces simulation batches against the display refresh.
//
// Every display tick calls Controller.Tick. A tick either issues one batch
// (a stepper Advance followed by a copy into the display buffer) or, when
// the in-flight budget is exhausted, drops the simulation work for that
// tick so the display never waits on the device.
package frame

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/sim"
)

// TickResult is the outcome of one display tick.
type TickResult uint8

const (
	// TickIssued means a batch was handed to the worker.
	TickIssued TickResult = iota + 1

	// TickDropped means the budget was exhausted and no batch was issued.
	TickDropped

	// TickStopped means the controller is closed or has failed.
	TickStopped
)

func (r TickResult) String() string {
	switch r {
	case TickIssued:
		return "issued"
	case TickDropped:
		return "dropped"
	case TickStopped:
		return "stopped"
	default:
		return fmt.Sprintf("tick(%d)", uint8(r))
	}
}

// ErrClosed is recorded when work is requested from a closed controller.
var ErrClosed = errors.New("frame: controller is closed")

// Defaults applied by New to zero Config fields.
const (
	DefaultSteps    = 20
	DefaultTimestep = 1.0
	DefaultBudget   = 2
)

// Config configures a Controller.
type Config struct {
	// Steps is the number of steps per batch.
	Steps int

	// Timestep is dt of every step.
	Timestep float32

	// Budget is the in-flight budget capacity. The default equals the
	// number of field buffers.
	Budget int

	// Metrics receives tick and batch statistics. Optional.
	Metrics *Metrics

	// OnPresent is called on the worker after each display copy completes,
	// with the sequence number of the presented batch. Optional.
	OnPresent func(seq uint64)

	// Logger receives diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Stats is a snapshot of controller counters.
type Stats struct {
	Ticks     uint64
	Issued    uint64
	Dropped   uint64
	Completed uint64
	InFlight  int
	Peak      int
}

// Controller issues simulation batches from a single worker goroutine and
// copies each result into the display buffer.
//
// Tick, Reseed, Stats and Err are safe to call from the display thread;
// none of them blocks on the device.
type Controller struct {
	stepper *sim.Stepper
	dev     gpucore.Device
	display gpucore.Buffer
	size    uint64
	budget  *Budget
	cfg     Config
	log     *slog.Logger

	jobs chan func()
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup

	err         atomic.Pointer[error]
	pendingSeed atomic.Pointer[float32]

	ticks     atomic.Uint64
	issued    atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
}

// New starts a controller for stepper that presents into display. The
// display buffer must hold a whole field and allow CopyDst.
func New(stepper *sim.Stepper, dev gpucore.Device, display gpucore.Buffer, cfg Config) (*Controller, error) {
	if cfg.Steps == 0 {
		cfg.Steps = DefaultSteps
	}
	if cfg.Timestep == 0 {
		cfg.Timestep = DefaultTimestep
	}
	if cfg.Budget == 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Steps < 1 || !validTimestep(cfg.Timestep) || cfg.Budget < 1 {
		return nil, fmt.Errorf("frame: invalid config steps=%d dt=%v budget=%d", cfg.Steps, cfg.Timestep, cfg.Budget)
	}
	w, h := stepper.Size()
	size := uint64(w) * uint64(h) * sim.CellSize //nolint:gosec // positive grid size
	if display == nil || display.Size() < size {
		return nil, fmt.Errorf("frame: display buffer must hold %d bytes", size)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	c := &Controller{
		stepper: stepper,
		dev:     dev,
		display: display,
		size:    size,
		budget:  NewBudget(cfg.Budget),
		cfg:     cfg,
		log:     log,
		// Each budget unit posts at most one batch job and one completion
		// job, so posting never blocks.
		jobs: make(chan func(), 2*cfg.Budget+1),
		done: make(chan struct{}),
	}
	go c.work()
	log.Info("frame: controller started", "steps", cfg.Steps, "dt", cfg.Timestep, "budget", cfg.Budget)
	return c, nil
}

// validTimestep matches the check Stepper.Advance panics on: positive and
// finite.
func validTimestep(dt float32) bool {
	return dt > 0 && !math.IsInf(float64(dt), 0)
}

func (c *Controller) work() {
	defer close(c.done)
	for job := range c.jobs {
		job()
	}
}

// Budget returns the in-flight budget.
func (c *Controller) Budget() *Budget { return c.budget }

// Tick is called once per display refresh. It never blocks.
func (c *Controller) Tick() TickResult {
	c.ticks.Add(1)

	c.mu.Lock()
	if c.closed || c.err.Load() != nil {
		c.mu.Unlock()
		c.cfg.Metrics.tick(TickStopped)
		return TickStopped
	}
	if !c.budget.TryAcquire() {
		c.mu.Unlock()
		n := c.dropped.Add(1)
		c.log.Debug("frame: dropped simulation kick", "dropped", n, "in_flight", c.budget.Outstanding())
		c.cfg.Metrics.tick(TickDropped)
		return TickDropped
	}
	c.inFlight.Add(1)
	seq := c.issued.Add(1)
	c.mu.Unlock()

	c.cfg.Metrics.tick(TickIssued)
	c.cfg.Metrics.setInFlight(c.budget.Outstanding())
	start := time.Now()
	c.jobs <- func() { c.runBatch(seq, start) }
	return TickIssued
}

// Reseed requests a reseed. It is applied on the worker before the next
// issued batch, once the previous batch has completed.
func (c *Controller) Reseed(seed float32) {
	c.pendingSeed.Store(&seed)
}

func (c *Controller) applyPendingSeed() error {
	seed := c.pendingSeed.Swap(nil)
	if seed == nil {
		return nil
	}
	if last := c.stepper.Outstanding(); last != nil {
		<-last.Done()
	}
	if err := c.stepper.Reseed(*seed); err != nil {
		return err
	}
	c.log.Info("frame: reseeded", "seed", *seed)
	return nil
}

// runBatch executes on the worker.
func (c *Controller) runBatch(seq uint64, start time.Time) {
	if err := c.applyPendingSeed(); err != nil {
		c.finish(seq, start, nil, err)
		return
	}
	batch, err := c.stepper.Advance(c.cfg.Steps, c.cfg.Timestep)
	if err != nil {
		c.finish(seq, start, nil, err)
		return
	}
	sub, err := c.present(batch.Result)
	if err != nil {
		// The batch is on the queue; hold the unit until it completes.
		go func() {
			<-batch.Submission.Done()
			c.jobs <- func() { c.finish(seq, start, nil, err) }
		}()
		return
	}
	c.log.Debug("frame: batch issued", "seq", seq, "batch", batch.Submission.ID(), "copy", sub.ID())

	// Continuation: completion of the copy implies completion of the batch
	// submitted before it on the same queue.
	go func() {
		<-sub.Done()
		c.jobs <- func() {
			err := batch.Submission.Err()
			if err == nil {
				err = sub.Err()
			}
			c.finish(seq, start, sub, err)
		}
	}()
}

func (c *Controller) present(result gpucore.Buffer) (*gpucore.Submission, error) {
	enc, err := c.dev.CreateCommandEncoder("present_copy")
	if err != nil {
		return nil, fmt.Errorf("frame: create copy encoder: %w", err)
	}
	enc.CopyBufferToBuffer(result, c.display, c.size)
	cb, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("frame: encode display copy: %w", err)
	}
	sub, err := c.dev.Submit(cb)
	if err != nil {
		return nil, fmt.Errorf("frame: submit display copy: %w", err)
	}
	return sub, nil
}

// finish runs on the worker once a batch is done or failed, and returns
// its budget unit.
func (c *Controller) finish(seq uint64, start time.Time, sub *gpucore.Submission, err error) {
	defer c.inFlight.Done()
	c.budget.Release()
	c.cfg.Metrics.setInFlight(c.budget.Outstanding())
	c.cfg.Metrics.done(start, err)

	if err != nil {
		if c.err.CompareAndSwap(nil, &err) {
			c.log.Error("frame: simulation failed", "seq", seq, "err", err)
		}
		return
	}
	c.completed.Add(1)
	c.log.Debug("frame: batch presented", "seq", seq, "copy", sub.ID(), "latency", time.Since(start))
	if c.cfg.OnPresent != nil {
		c.cfg.OnPresent(seq)
	}
}

// Err returns the first batch failure. A failed controller stops issuing
// batches; there is no recovery from a partially completed step.
func (c *Controller) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns the current counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Ticks:     c.ticks.Load(),
		Issued:    c.issued.Load(),
		Dropped:   c.dropped.Load(),
		Completed: c.completed.Load(),
		InFlight:  c.budget.Outstanding(),
		Peak:      c.budget.Peak(),
	}
}

// Close stops issuing batches, waits for outstanding batches to complete
// and stops the worker. In-flight work is never cancelled.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.Err()
	}
	c.closed = true
	c.mu.Unlock()

	c.inFlight.Wait()
	close(c.jobs)
	<-c.done
	c.log.Info("frame: controller closed", "issued", c.issued.Load(), "dropped", c.dropped.Load())
	return c.Err()
}
