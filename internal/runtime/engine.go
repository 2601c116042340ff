// Package runtime implements the single-threaded execution engine (spec.md
// §4.6): exec_cycle, profiling instrumentation, and UI update batching.
package runtime

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/logging"
	"github.com/audiograph/flow/internal/netbuild"
	"github.com/audiograph/flow/internal/variable"
)

// UICallback is invoked once per pending changed variable when the UI update
// list is drained, per §4.6 and §6.5.
type UICallback func(v *variable.Variable)

// Config carries the engine-global cycle parameters from the top-level
// program cfg (§6.1).
type Config struct {
	FramesPerCycle int
	SampleRate     float64
	NonRealTime    bool
	MaxCycleCount  uint64 // 0 = unbounded
	MaxDuration    time.Duration
	UIUpdateEvery  int // drain the UI list every N cycles
	ProfileEnabled bool
}

// Engine drives one Network (or the active leg of a cross-fade controller)
// through repeated exec_cycle calls (§4.6).
type Engine struct {
	Net    *netbuild.Network
	Cfg    Config
	UI     UICallback
	Cycle  uint64

	halted    bool
	haltedErr error

	cycleHist   *prometheus.HistogramVec
	procHist    *prometheus.HistogramVec
	allocGauge  prometheus.Gauge
	lastAllocs  uint64
	registerer  prometheus.Registerer
}

// NewEngine constructs an Engine. If registerer is non-nil and
// cfg.ProfileEnabled, per-cycle and per-proc timing histograms and an
// allocation gauge are registered against it (§4.6 "Per-proc timing is
// accumulated when profiling is enabled").
func NewEngine(net *netbuild.Network, cfg Config, ui UICallback, registerer prometheus.Registerer) *Engine {
	e := &Engine{Net: net, Cfg: cfg, UI: ui, registerer: registerer}
	if cfg.ProfileEnabled && registerer != nil {
		e.cycleHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flow",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one exec_cycle.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 20),
		}, nil)
		e.procHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flow",
			Name:      "proc_exec_duration_seconds",
			Help:      "Duration of one proc's exec call within a cycle.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 2, 20),
		}, []string{"proc"})
		e.allocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flow",
			Name:      "alloc_bytes_between_cycles",
			Help:      "Heap growth observed between successive cycle boundaries (should be ~0 in real-time mode).",
		})
		registerer.MustRegister(e.cycleHist, e.procHist, e.allocGauge)
	}
	return e
}

// ExecCycle runs one cycle: every proc's exec, in declaration order, then
// (every Cfg.UIUpdateEvery cycles) a UI drain (§4.6, §5).
func (e *Engine) ExecCycle() error {
	var memBefore runtime.MemStats
	trackAlloc := e.allocGauge != nil
	if trackAlloc {
		runtime.ReadMemStats(&memBefore)
	}

	start := time.Now()
	for _, p := range e.Net.Procs {
		procStart := time.Now()
		err := p.RunExec()
		if e.procHist != nil {
			e.procHist.WithLabelValues(p.Label()).Observe(time.Since(procStart).Seconds())
		}
		if err != nil {
			if ferr.Is(err, ferr.EOF) {
				// end-of-stream flags a halt at cycle end, not mid-cycle;
				// the remaining procs still run this cycle.
				e.halted = true
				continue
			}
			logging.Errorf("proc exec failed: %v", err)
			e.halted = true
			e.haltedErr = err
			break
		}
		if err := p.NotifyPending(); err != nil {
			logging.Errorf("proc notify failed: %v", err)
		}
		if err := p.RunManualNotify(); err != nil {
			logging.Errorf("proc manual notify failed: %v", err)
		}
		for _, v := range p.AllVars() {
			variable.Propagate(v)
		}
	}
	if e.cycleHist != nil {
		e.cycleHist.WithLabelValues().Observe(time.Since(start).Seconds())
	}

	e.Cycle++
	if e.Cfg.UIUpdateEvery > 0 && e.Cycle%uint64(e.Cfg.UIUpdateEvery) == 0 {
		e.SendUIUpdates()
	}

	if trackAlloc {
		var memAfter runtime.MemStats
		runtime.ReadMemStats(&memAfter)
		if memAfter.TotalAlloc > memBefore.TotalAlloc {
			grown := memAfter.TotalAlloc - memBefore.TotalAlloc
			e.allocGauge.Set(float64(grown))
			if !e.Cfg.NonRealTime && grown > 0 {
				logging.Warnf("allocation of %d bytes observed between cycles", grown)
			}
		}
	}
	return e.haltedErr
}

// SendUIUpdates drains the pending UI-update list and invokes the UI
// callback once per variable (§4.6, §6.5). Must run on the engine thread.
func (e *Engine) SendUIUpdates() {
	if e.UI == nil {
		variable.Drain(func(*variable.Variable) {})
		return
	}
	variable.Drain(e.UI)
}

// Halted reports whether the engine has stopped executing cycles.
func (e *Engine) Halted() bool { return e.halted }

// Run loops ExecCycle until halt, MaxCycleCount, or MaxDuration is reached,
// or ctx is canceled (§4.6's exec(engine)). In real-time mode the caller
// drives ExecCycle directly from the audio device callback instead.
func (e *Engine) Run(ctx context.Context) error {
	deadline := time.Time{}
	if e.Cfg.MaxDuration > 0 {
		deadline = time.Now().Add(e.Cfg.MaxDuration)
	}
	for {
		if e.halted {
			return e.haltedErr
		}
		if e.Cfg.MaxCycleCount > 0 && e.Cycle >= e.Cfg.MaxCycleCount {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.ExecCycle(); err != nil && !ferr.Is(err, ferr.EOF) {
			return err
		}
	}
}
