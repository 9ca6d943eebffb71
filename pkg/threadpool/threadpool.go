// Package threadpool maps WorkerActors onto goroutines: the Go analogue of
// the source's OS-thread pool, since the Go runtime scheduler already
// multiplexes goroutines onto OS threads and GOMAXPROCS substitutes for
// thread-count and CPU-affinity configuration.
package threadpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/flowmeshio/flowmesh/pkg/actor"
	"github.com/flowmeshio/flowmesh/pkg/block"
	"github.com/flowmeshio/flowmesh/pkg/log"
	"github.com/flowmeshio/flowmesh/pkg/metrics"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AffinityMode selects which CPUs a pool's goroutines prefer, advisory
// only: Go provides no portable CPU-pinning API, so ALL/CPU/NUMA are
// recorded for diagnostics only and do not change scheduling behavior
// beyond GOMAXPROCS.
type AffinityMode string

const (
	AffinityAll  AffinityMode = "ALL"
	AffinityCPU  AffinityMode = "CPU"
	AffinityNUMA AffinityMode = "NUMA"
)

// YieldMode controls how a worker goroutine behaves when its actor has no
// runnable work.
type YieldMode string

const (
	YieldCondition YieldMode = "CONDITION"
	YieldHybrid    YieldMode = "HYBRID"
	YieldSpin      YieldMode = "SPIN"
)

// hybridSpinCount is the number of idle-check spins a HYBRID-mode worker
// performs before yielding the goroutine, matching the spin-then-yield
// threshold used by pkg/registry's RWSpinLock for consistency across the
// module. spec.md leaves this unspecified in the source and asks the
// rewrite to pick and document a default.
const hybridSpinCount = 1024

// Args configures a ThreadPool.
type Args struct {
	// NumThreads is the number of worker goroutines; 0 selects
	// runtime.NumCPU()+1.
	NumThreads int
	// Priority is advisory (-1.0..1.0); Go has no portable realtime
	// scheduling API, so this is recorded but not enforced.
	Priority float64
	// AffinityMode and Affinity are advisory (see AffinityMode doc).
	AffinityMode AffinityMode
	Affinity     []int
	// YieldMode controls idle behavior.
	YieldMode YieldMode
}

func (a Args) validate() error {
	if a.Priority < -1.0 || a.Priority > 1.0 {
		return fmt.Errorf("%w: priority %f out of range [-1,1]", xerrors.ErrThreadPool, a.Priority)
	}
	switch a.AffinityMode {
	case "", AffinityAll, AffinityCPU, AffinityNUMA:
	default:
		return fmt.Errorf("%w: unknown affinity mode %q", xerrors.ErrThreadPool, a.AffinityMode)
	}
	switch a.YieldMode {
	case "", YieldCondition, YieldHybrid, YieldSpin:
	default:
		return fmt.Errorf("%w: unknown yield mode %q", xerrors.ErrThreadPool, a.YieldMode)
	}
	return nil
}

func (a Args) withDefaults() Args {
	if a.NumThreads <= 0 {
		a.NumThreads = runtime.NumCPU() + 1
	}
	if a.AffinityMode == "" {
		a.AffinityMode = AffinityAll
	}
	if a.YieldMode == "" {
		a.YieldMode = YieldCondition
	}
	return a
}

// managedActor is one block's actor plus the hooks the pool needs to drive
// its work loop: the block's Work method, its Context, and a reference for
// logging.
type managedActor struct {
	id     string
	act    *actor.Actor
	blk    block.Block
	ctx    *block.Context
	ready  func() bool
	logger zerolog.Logger
}

// Pool maps registered actors onto goroutines and drives each actor's
// work() loop whenever the actor's preconditions are satisfied, the same
// role the teacher's Scheduler plays for container placement: a set of
// goroutines polling shared state on a bounded interval, logging and
// continuing past per-cycle errors rather than crashing the loop.
type Pool struct {
	args   Args
	logger zerolog.Logger

	mu      sync.Mutex
	actors  []*managedActor
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// New validates args and constructs an idle Pool; call Start to launch the
// worker goroutines.
func New(args Args) (*Pool, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	return &Pool{
		args:   args.withDefaults(),
		logger: log.WithComponent("threadpool"),
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds an actor the pool will drive once Start is called. id is
// used for logging and metrics labeling.
func (p *Pool) Register(id string, act *actor.Actor, blk block.Block, ctx *block.Context, ready func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actors = append(p.actors, &managedActor{
		id:     id,
		act:    act,
		blk:    blk,
		ctx:    ctx,
		ready:  ready,
		logger: p.logger.With().Str("block_id", id).Logger(),
	})
}

// Start launches NumThreads worker goroutines, each repeatedly scanning the
// registered actor set for runnable work. A single shared scan, rather than
// one goroutine per actor, matches the source's thread-pool-smaller-than-
// actor-count model (num_threads is a concurrency budget, not a 1:1 actor
// mapping).
func (p *Pool) Start() {
	for i := 0; i < p.args.NumThreads; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	metrics.RegisterComponent("threadpool", true, fmt.Sprintf("%d worker goroutines running", p.args.NumThreads))
}

// Stop requests every worker goroutine to finish its current pass and
// return, cooperative per spec.md §4.6: neither in-flight Work calls nor
// an idle wait are interrupted; each worker returns at its next stop check.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
	metrics.UpdateComponent("threadpool", false, "stopped")
}

func (p *Pool) workerLoop(workerIndex int) {
	defer p.wg.Done()
	limiter := rate.NewLimiter(rate.Limit(idleBackoffHz), 1)
	spins := 0

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		did := p.scanOnce()
		if did {
			spins = 0
			continue
		}

		switch p.args.YieldMode {
		case YieldSpin:
			continue
		case YieldHybrid:
			spins++
			if spins < hybridSpinCount {
				continue
			}
			runtime.Gosched()
		default: // YieldCondition
			_ = limiter.Wait(context.Background())
		}
	}
}

// idleBackoffHz bounds how often a CONDITION-mode worker re-polls when it
// finds nothing runnable, standing in for the source's condition-variable
// wait/notify pair (each registered actor already wakes a parked goroutine
// indirectly through actor.FlagChange, but the scan loop still needs a
// bounded re-check interval against actors that have no separate wake
// path, e.g. pure timers).
const idleBackoffHz = 500

// scanOnce attempts one work pass across every registered actor whose
// WorkerTryAcquire succeeds and whose readiness predicate is satisfied.
// Returns true if any actor performed work.
func (p *Pool) scanOnce() bool {
	p.mu.Lock()
	actors := append([]*managedActor(nil), p.actors...)
	p.mu.Unlock()

	didWork := false
	for _, ma := range actors {
		if ma.act.State() != actor.Active {
			continue
		}
		if !ma.act.WorkerTryAcquire(false) {
			continue
		}
		ran := p.runOne(ma)
		ma.act.WorkerRelease()
		if ran {
			didWork = true
		}
	}
	return didWork
}

func (p *Pool) runOne(ma *managedActor) bool {
	if ma.ready != nil && !ma.ready() {
		return false
	}

	before := inputActivity(ma.ctx)
	timer := metrics.NewTimer()
	ma.ctx.ResetYield()
	if err := ma.blk.Work(ma.ctx); err != nil {
		ma.logger.Error().Err(err).Msg("work call failed")
		metrics.WorkCallsTotal.WithLabelValues(ma.id, "error").Inc()
		return false
	}
	timer.ObserveDuration(metrics.WorkLatency)
	if ma.ctx.Yielded() {
		// Re-flag the actor so the next scan's WorkerTryAcquire picks it up.
		ma.act.FlagChange()
	}

	delivered := false
	for _, out := range ma.ctx.Outputs {
		if out.Commit() {
			delivered = true
		}
	}

	// A successful Work call that neither consumed input nor delivered
	// output is a no-op pass (e.g. a source that already sent its one
	// buffer, or a sink with nothing pending): it must not bump the work
	// counter topology's WaitInactive polls for quiescence.
	did := delivered || ma.ctx.Yielded() || inputActivity(ma.ctx) != before
	outcome := "idle"
	if did {
		outcome = "active"
		ma.act.RecordWork()
	}
	metrics.WorkCallsTotal.WithLabelValues(ma.id, outcome).Inc()
	return did
}

// inputActivity sums the consumption/arrival counters across ctx's input
// ports, used to detect whether a Work call that produced no output still
// consumed something (a pure sink).
func inputActivity(ctx *block.Context) int {
	sum := 0
	for _, in := range ctx.Inputs {
		sum += in.TotalElements + in.TotalMessages
	}
	return sum
}
