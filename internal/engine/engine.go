// Package engine runs batches of quantum trajectories in parallel and
// aggregates their measurement records into an outcome histogram. Each
// shot owns its state vector, classical register, channel evaluator and
// random stream; the builder, schedule and integrator are shared
// read-only across workers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"gonum.org/v1/gonum/stat"

	"github.com/quantaly/pulsesim/internal/hamiltonian"
	"github.com/quantaly/pulsesim/internal/integrator"
	"github.com/quantaly/pulsesim/internal/measure"
	"github.com/quantaly/pulsesim/internal/pulse"
	"github.com/quantaly/pulsesim/internal/quantum"
	"github.com/quantaly/pulsesim/internal/rng"
)

// Config holds everything that varies between runs of the same schedule.
type Config struct {
	Shots     int     // number of trajectories
	Seed      uint64  // run seed; per-shot streams are derived from it
	StepSize  float64 // integrator step size (initial and maximum)
	Tolerance float64 // 0 selects fixed-step RK4
	MinStep   float64 // adaptive lower bound, 0 defaults to StepSize/1024

	Workers int // 0 defaults to the physical core count

	Interpolator   pulse.Interpolator // nil defaults to sample-and-hold
	Readout        measure.ReadoutError
	AllowRemeasure bool
	StrictWrites   bool
	ReturnStates   bool // attach the final state vector to each shot
}

// Validate checks the run parameters. Integrator parameters are validated
// again by the integrator itself.
func (c Config) Validate() error {
	if c.Shots <= 0 {
		return fmt.Errorf("engine: shots %d must be positive", c.Shots)
	}
	if c.Workers < 0 {
		return fmt.Errorf("engine: workers %d must not be negative", c.Workers)
	}
	return nil
}

// defaultWorkers prefers the physical core count; trajectory propagation
// is compute-bound and gains nothing from hyperthread siblings.
func defaultWorkers() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ShotResult is the per-trajectory outcome.
type ShotResult struct {
	Index     int
	Memory    []int8 // raw register slots, -1 where never written
	Bitstring string
	FinalNorm float64
	Stats     integrator.Stats
	State     *quantum.State // final state, only when Config.ReturnStates
	Err       error
}

// Result aggregates a full run. Failed shots are counted per reason and
// never folded into Counts silently.
type Result struct {
	RunID     string
	Shots     int
	Succeeded int
	Failed    int
	Counts    map[string]int // bitstring -> occurrences, successes only
	Failures  map[string]int // failure reason -> occurrences

	MeanFinalNorm   float64 // mean post-run norm over successful shots
	StdDevFinalNorm float64

	Duration    time.Duration
	ShotResults []ShotResult // index order
}

// Engine executes trajectory batches for one schedule and model.
type Engine struct {
	builder *hamiltonian.Builder
	sched   *pulse.Schedule
	integ   *integrator.Integrator
	cfg     Config
	regSize int
	log     zerolog.Logger
}

// New validates the schedule and configuration up front so that a run
// can only fail per-shot, never on construction-time mistakes.
func New(builder *hamiltonian.Builder, sched *pulse.Schedule, cfg Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := sched.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid schedule: %w", err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers()
	}
	sampler := measure.NewSampler(cfg.AllowRemeasure, cfg.Readout)
	integ, err := integrator.New(builder, sched, sampler, integrator.Config{
		StepSize:  cfg.StepSize,
		Tolerance: cfg.Tolerance,
		MinStep:   cfg.MinStep,
	})
	if err != nil {
		return nil, err
	}

	regSize := 0
	for _, m := range sched.Measurements {
		if m.Slot+1 > regSize {
			regSize = m.Slot + 1
		}
	}

	return &Engine{
		builder: builder,
		sched:   sched,
		integ:   integ,
		cfg:     cfg,
		regSize: regSize,
		log:     log.With().Str("component", "engine").Logger(),
	}, nil
}

// Run executes all shots across the worker pool and aggregates the
// outcomes. Cancellation is honored at shot boundaries: shots already in
// flight finish, queued shots are skipped, and the partial aggregate is
// returned together with the context error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()
	e.log.Info().
		Str("run_id", runID).
		Int("shots", e.cfg.Shots).
		Int("workers", e.cfg.Workers).
		Uint64("seed", e.cfg.Seed).
		Msg("Starting trajectory run")

	jobs := make(chan int, e.cfg.Shots)
	results := make(chan ShotResult, e.cfg.Shots)

	numWorkers := e.cfg.Workers
	if e.cfg.Shots < numWorkers {
		numWorkers = e.cfg.Shots
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, jobs, results)
		}()
	}

	for shot := 0; shot < e.cfg.Shots; shot++ {
		jobs <- shot
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &Result{
		RunID:       runID,
		Shots:       e.cfg.Shots,
		Counts:      make(map[string]int),
		Failures:    make(map[string]int),
		ShotResults: make([]ShotResult, e.cfg.Shots),
	}
	var norms []float64
	completed := 0
	for sr := range results {
		res.ShotResults[sr.Index] = sr
		completed++
		if sr.Err != nil {
			res.Failed++
			res.Failures[failureReason(sr.Err)]++
			continue
		}
		res.Succeeded++
		res.Counts[sr.Bitstring]++
		norms = append(norms, sr.FinalNorm)
	}
	if len(norms) > 0 {
		res.MeanFinalNorm = stat.Mean(norms, nil)
		res.StdDevFinalNorm = stat.StdDev(norms, nil)
	}
	res.Duration = time.Since(start)

	e.log.Info().
		Str("run_id", runID).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("Trajectory run finished")

	if completed < e.cfg.Shots {
		return res, ctx.Err()
	}
	return res, nil
}

// worker drains shot indices. The context is consulted once per shot so
// a cancelled run never surfaces a half-propagated trajectory.
func (e *Engine) worker(ctx context.Context, jobs <-chan int, results chan<- ShotResult) {
	for shot := range jobs {
		if ctx.Err() != nil {
			return
		}
		results <- e.runShot(shot)
	}
}

// runShot propagates one trajectory with freshly allocated per-shot
// state. The stream seed depends only on the run seed and the shot
// index, so shot k reproduces exactly regardless of worker scheduling.
func (e *Engine) runShot(shot int) ShotResult {
	st := quantum.New(e.builder.Dim())
	reg := measure.NewRegister(e.regSize, e.cfg.StrictWrites)
	ev := pulse.NewEvaluator(e.sched, e.cfg.Interpolator)
	stream := rng.NewStream(e.cfg.Seed, shot)

	stats, err := e.integ.Run(st, reg, ev, stream)
	sr := ShotResult{Index: shot, Stats: stats, Err: err}
	if err != nil {
		e.log.Debug().Int("shot", shot).Err(err).Msg("Shot failed")
		return sr
	}
	sr.Memory = reg.Snapshot()
	sr.Bitstring = reg.Bitstring()
	sr.FinalNorm = st.Norm()
	if e.cfg.ReturnStates {
		sr.State = st
	}
	return sr
}

// failureReason buckets per-shot errors for the aggregate report.
func failureReason(err error) string {
	switch {
	case errors.Is(err, integrator.ErrIntegrationDiverged):
		return "diverged"
	case errors.Is(err, measure.ErrAlreadyMeasured):
		return "already-measured"
	case errors.Is(err, measure.ErrConflictingWrite):
		return "conflicting-write"
	case errors.Is(err, quantum.ErrZeroNorm):
		return "zero-norm"
	default:
		return "error"
	}
}
