package dflow

import (
	"os"
	"runtime"
	"sync"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/joeycumines/logiface"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kestrelrun/dflow/internal/diag"
)

const defaultLogLevel = logiface.LevelInformational

// SchedulerMode selects the scheduler's steal discipline.
type SchedulerMode int

const (
	// LIFOSteal is the default: a worker pops its own queue LIFO and
	// steals FIFO from others.
	LIFOSteal SchedulerMode = iota
	// FIFOSteal runs every worker, owner included, FIFO.
	FIFOSteal
)

// envSchedulerMode mirrors spec.md §6's CNC_SCHEDULER environment knob.
const envSchedulerMode = "DFLOW_SCHEDULER"

type config struct {
	workers     int
	mode        SchedulerMode
	logger      *diag.Logger
	traceRate   int
	autoMemLim  bool
}

// Option configures a Context at construction time.
type Option func(*config)

// WithWorkers fixes the worker pool size. The default, applied once per
// process via go.uber.org/automaxprocs, is runtime.GOMAXPROCS(0) after it
// has been adjusted to the container's CPU quota — spec.md §6's "thread
// count from the concurrency library default".
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithSchedulerMode overrides the steal discipline, ignoring the
// DFLOW_SCHEDULER environment variable.
func WithSchedulerMode(m SchedulerMode) Option {
	return func(c *config) { c.mode = m }
}

// WithLogger injects a structured logger; the default writes stumpy JSON
// to os.Stderr at informational level.
func WithLogger(l *diag.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithTraceSampleRate bounds how many trace log lines (item put, item
// suspend, and tag put events) are emitted per second, per event category.
// Zero disables the cap (every event is passed to the logger); the default
// is 50.
func WithTraceSampleRate(perSecond int) Option {
	return func(c *config) { c.traceRate = perSecond }
}

// WithoutAutoMemLimit disables the automatic GOMEMLIMIT adjustment that
// would otherwise run once per process on first Context construction.
func WithoutAutoMemLimit() Option {
	return func(c *config) { c.autoMemLim = false }
}

var (
	maxprocsOnce sync.Once
	memlimitOnce sync.Once
)

func resolveConfig(opts []Option) config {
	c := config{
		mode:       schedulerModeFromEnv(),
		traceRate:  50,
		autoMemLim: true,
	}
	for _, o := range opts {
		o(&c)
	}
	maxprocsOnce.Do(func() {
		_, _ = maxprocs.Set()
	})
	if c.autoMemLim {
		memlimitOnce.Do(func() {
			_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9))
		})
	}
	if c.workers <= 0 {
		c.workers = runtime.GOMAXPROCS(0)
		if c.workers < 1 {
			c.workers = 1
		}
	}
	if c.logger == nil {
		c.logger = diag.NewLogger(os.Stderr, defaultLogLevel)
	}
	return c
}

func schedulerModeFromEnv() SchedulerMode {
	switch os.Getenv(envSchedulerMode) {
	case "FIFO_STEAL":
		return FIFOSteal
	default:
		return LIFOSteal
	}
}
