package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/pipeline"
)

// Program names the stepper registers with the pipeline cache.
const (
	SeedProgram = "seed"
	StepProgram = "gray_scott"
)

// ErrBatchOutstanding is returned by Reseed while a batch submitted by
// Advance has not completed.
var ErrBatchOutstanding = errors.New("sim: a simulation batch is still outstanding")

// Config configures a Stepper.
type Config struct {
	Width, Height int

	// Params are the initial parameters. The zero value selects
	// DefaultParams.
	Params Params

	// Seed is the value of the initial seeding pass.
	Seed float32

	// Logger receives per-batch diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Batch is the outcome of one Advance call.
type Batch struct {
	// Result is the buffer written by the last step of the batch.
	Result gpucore.Buffer

	// Steps and Timestep are the requested batch size and dt.
	Steps    int
	Timestep float32

	// Params is the snapshot every step of the batch used.
	Params Params

	// Submission completes when the device has executed the batch.
	Submission *gpucore.Submission
}

// Stepper advances a Gray-Scott field held in two device buffers.
//
// Advance and Reseed must not be called concurrently; both panic when
// they detect it. Field, RoleOf and Read belong to the goroutine that calls
// Advance. Parameters may be changed at any time through Params.
type Stepper struct {
	cache  *pipeline.Cache
	dev    gpucore.Device
	log    *slog.Logger
	width  int
	height int
	groups [2]uint32

	seedProgram pipeline.Handle
	stepProgram pipeline.Handle

	fields      [2]*Field
	params      *ParamStore
	stepParams  gpucore.Buffer
	seedParams  gpucore.Buffer
	busy        atomic.Bool
	outstanding atomic.Pointer[gpucore.Submission]
	batches     atomic.Uint64
}

// New allocates the field buffers, registers the seed and step programs
// and seeds the field with cfg.Seed.
func New(cache *pipeline.Cache, cfg Config) (*Stepper, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("sim: invalid grid size %dx%d", cfg.Width, cfg.Height)
	}
	params := cfg.Params
	if params == (Params{}) {
		params = DefaultParams()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	seedH, err := cache.RegisterCompute(SeedProgram)
	if err != nil {
		return nil, fmt.Errorf("sim: register seed program: %w", err)
	}
	stepH, err := cache.RegisterCompute(StepProgram)
	if err != nil {
		return nil, fmt.Errorf("sim: register step program: %w", err)
	}

	s := &Stepper{
		cache:       cache,
		dev:         cache.Device(),
		log:         log,
		width:       cfg.Width,
		height:      cfg.Height,
		seedProgram: seedH,
		stepProgram: stepH,
		params:      NewParamStore(params),
	}
	s.groups[0], s.groups[1] = gpucore.WorkgroupCount(cfg.Width, cfg.Height, cache.Workgroup())

	if err := s.allocate(); err != nil {
		s.Release()
		return nil, err
	}
	if err := s.Reseed(cfg.Seed); err != nil {
		s.Release()
		return nil, err
	}
	log.Info("sim: stepper initialized", "width", cfg.Width, "height", cfg.Height,
		"groups_x", s.groups[0], "groups_y", s.groups[1])
	return s, nil
}

func (s *Stepper) allocate() error {
	size := uint64(s.width) * uint64(s.height) * CellSize //nolint:gosec // validated grid size
	for i, name := range []string{"ping", "pong"} {
		buf, err := s.dev.CreateBuffer(&gpucore.BufferDesc{
			Label: "field_" + name,
			Size:  size,
			Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc,
		})
		if err != nil {
			return fmt.Errorf("sim: allocate %s field: %w", name, err)
		}
		role := RoleSource
		if i == 1 {
			role = RoleDestination
		}
		s.fields[i] = &Field{name: name, buffer: buf, role: role}
	}

	var err error
	s.stepParams, err = s.dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "step_params",
		Size:  32,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("sim: allocate step parameters: %w", err)
	}
	s.seedParams, err = s.dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "seed_params",
		Size:  16,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("sim: allocate seed parameters: %w", err)
	}
	return nil
}

// Size returns the grid dimensions.
func (s *Stepper) Size() (width, height int) { return s.width, s.height }

// Params returns the live parameter store.
func (s *Stepper) Params() *ParamStore { return s.params }

// Field returns the field currently holding role.
func (s *Stepper) Field(role Role) *Field {
	if s.fields[0].role == role {
		return s.fields[0]
	}
	return s.fields[1]
}

// Fields returns both fields in allocation order (ping, pong).
func (s *Stepper) Fields() [2]*Field { return s.fields }

// RoleOf returns the role currently held by f.
func (s *Stepper) RoleOf(f *Field) Role { return f.role }

// Batches returns the number of batches submitted.
func (s *Stepper) Batches() uint64 { return s.batches.Load() }

func (s *Stepper) swapRoles() {
	s.fields[0].role = s.fields[0].role.flip()
	s.fields[1].role = s.fields[1].role.flip()
}

func (s *Stepper) enter(op string) {
	if !s.busy.CompareAndSwap(false, true) {
		panic("sim: " + op + " called while another Advance or Reseed is running")
	}
}

// Reseed overwrites the Source field with the seed pattern for seed. The
// Destination field is untouched. It fails with ErrBatchOutstanding if the
// last batch has not completed.
func (s *Stepper) Reseed(seed float32) error {
	s.enter("Reseed")
	defer s.busy.Store(false)

	if sub := s.outstanding.Load(); sub != nil && !sub.Completed() {
		return ErrBatchOutstanding
	}
	if err := s.dev.WriteBuffer(s.seedParams, 0, seedUniforms(s.width, s.height, seed)); err != nil {
		return fmt.Errorf("sim: write seed parameters: %w", err)
	}

	enc, err := s.dev.CreateCommandEncoder("seed")
	if err != nil {
		return fmt.Errorf("sim: create encoder: %w", err)
	}
	pass := enc.BeginComputePass("seed")
	pass.SetPipeline(s.cache.Compute(s.seedProgram))
	pass.SetBindings(gpucore.Bind(s.seedParams, s.Field(RoleSource).buffer))
	pass.Dispatch(s.groups[0], s.groups[1], 1)
	pass.End()

	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("sim: encode seed: %w", err)
	}
	if _, err := s.dev.Submit(cb); err != nil {
		return fmt.Errorf("sim: submit seed: %w", err)
	}
	s.log.Debug("sim: reseeded", "seed", seed, "field", s.Field(RoleSource).name)
	return nil
}

// Advance records steps forward-Euler steps of size dt into one command
// buffer and submits it without waiting. The parameters are snapshotted
// once for the whole batch. The returned Result is the buffer written by
// the last step, which is the Source field afterwards.
//
// Advance panics if steps < 1, if dt is not a positive finite number, or if
// it is called concurrently with Advance or Reseed.
func (s *Stepper) Advance(steps int, dt float32) (*Batch, error) {
	if steps < 1 {
		panic(fmt.Sprintf("sim: Advance step count %d, need at least 1", steps))
	}
	if !(dt > 0) || math.IsInf(float64(dt), 0) {
		panic(fmt.Sprintf("sim: Advance timestep %v, need a positive finite value", dt))
	}
	s.enter("Advance")
	defer s.busy.Store(false)

	p := s.params.Snapshot()
	if err := s.dev.WriteBuffer(s.stepParams, 0, stepUniforms(s.width, s.height, p, dt)); err != nil {
		return nil, fmt.Errorf("sim: write step parameters: %w", err)
	}

	enc, err := s.dev.CreateCommandEncoder("gray_scott_batch")
	if err != nil {
		return nil, fmt.Errorf("sim: create encoder: %w", err)
	}
	pass := enc.BeginComputePass("gray_scott")
	pass.SetPipeline(s.cache.Compute(s.stepProgram))
	src, dst := s.Field(RoleSource), s.Field(RoleDestination)
	for range steps {
		pass.SetBindings(gpucore.Bind(s.stepParams, src.buffer, dst.buffer))
		pass.Dispatch(s.groups[0], s.groups[1], 1)
		src, dst = dst, src
	}
	pass.End()

	cb, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("sim: encode batch: %w", err)
	}
	sub, err := s.dev.Submit(cb)
	if err != nil {
		return nil, fmt.Errorf("sim: submit batch: %w", err)
	}

	// Roles change only once the batch is on the queue.
	if steps%2 == 1 {
		s.swapRoles()
	}
	s.outstanding.Store(sub)
	s.batches.Add(1)

	s.log.Debug("sim: batch submitted", "submission", sub.ID(), "steps", steps,
		"dt", dt, "F", p.F, "K", p.K, "result", src.name)
	return &Batch{Result: src.buffer, Steps: steps, Timestep: dt, Params: p, Submission: sub}, nil
}

// AdvanceSync is Advance followed by a wait for the batch to complete. It
// blocks the calling goroutine and must not be used on a display thread.
//
// It is meant for callers that drive a Stepper without a frame.Controller,
// such as offline runs and device comparisons. The controller never calls
// it: it uses Advance and releases its budget when the copy completes.
func (s *Stepper) AdvanceSync(ctx context.Context, steps int, dt float32) (*Batch, error) {
	b, err := s.Advance(steps, dt)
	if err != nil {
		return nil, err
	}
	if err := b.Submission.Wait(ctx); err != nil {
		return b, fmt.Errorf("sim: batch %d: %w", b.Submission.ID(), err)
	}
	return b, nil
}

// Outstanding returns the submission of the last batch, or nil.
func (s *Stepper) Outstanding() *gpucore.Submission { return s.outstanding.Load() }

// Read copies the field holding role back to the host. It waits for all
// previously submitted work.
func (s *Stepper) Read(role Role) (*Grid, error) {
	data, err := s.dev.ReadBuffer(s.Field(role).buffer)
	if err != nil {
		return nil, fmt.Errorf("sim: read %s field: %w", role, err)
	}
	return DecodeGrid(data, s.width, s.height)
}

// Release destroys the field and parameter buffers. The pipelines stay in
// the cache.
func (s *Stepper) Release() {
	for i, f := range s.fields {
		if f != nil {
			s.dev.DestroyBuffer(f.buffer)
			s.fields[i] = nil
		}
	}
	if s.stepParams != nil {
		s.dev.DestroyBuffer(s.stepParams)
		s.stepParams = nil
	}
	if s.seedParams != nil {
		s.dev.DestroyBuffer(s.seedParams)
		s.seedParams = nil
	}
}
