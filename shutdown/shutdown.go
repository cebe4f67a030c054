package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Phases used by eventkit processes. Lower phases run first.
const (
	PhaseWorkers    = 10
	PhaseTelemetry  = 20
	PhaseTransport  = 30
	PhaseStorage    = 40
	PhaseConnection = 50
)

// ErrTimeout is returned when the context expires before every phase ran.
var ErrTimeout = errors.New("shutdown: timed out")

// Handler releases one resource.
type Handler func(ctx context.Context) error

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a shutdown.
type Result struct {
	TotalDuration time.Duration
	Handlers      []HandlerResult
	Err           error
}

// Failed returns the names of handlers that returned an error.
func (r *Result) Failed() []string {
	var names []string
	for _, h := range r.Handlers {
		if h.Err != nil {
			names = append(names, h.Name)
		}
	}
	return names
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0).
	Timeout time.Duration

	// OnProgress, when set, is called after each handler returns.
	OnProgress func(HandlerResult)
}

// DefaultConfig returns a 30 second timeout.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

type registration struct {
	name    string
	phase   int
	handler Handler
}

// Coordinator runs registered handlers once, phase by phase.
type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	done     chan struct{}
	result   *Result
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Coordinator{cfg: cfg, done: make(chan struct{})}
}

// Register adds a handler. Handlers registered after Shutdown started are
// ignored.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: h})
}

// Shutdown runs every handler. Later calls wait for the first to finish
// and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		res := c.run(ctx)
		c.mu.Lock()
		c.result = res
		c.mu.Unlock()
		close(c.done)
	})
	<-c.done
	return c.Err()
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the
// configured timeout when timeout is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals returns a context canceled on SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error, or nil before Shutdown finished.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	return c.result.Err
}

// Result returns the shutdown result, or nil before Shutdown finished.
func (c *Coordinator) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()
	c.mu.Lock()
	regs := make([]registration, len(c.handlers))
	copy(regs, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(regs, func(i, j int) bool { return regs[i].phase < regs[j].phase })

	res := &Result{}
	var all []error
	for _, group := range groupByPhase(regs) {
		if ctx.Err() != nil {
			all = append(all, ErrTimeout)
			break
		}
		for _, hr := range c.runPhase(ctx, group) {
			res.Handlers = append(res.Handlers, hr)
			if hr.Err != nil {
				all = append(all, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
	}
	res.Err = errors.Join(all...)
	res.TotalDuration = time.Since(start)
	return res
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup
	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := r.handler(ctx)
			results[i] = HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}
			if c.cfg.OnProgress != nil {
				c.cfg.OnProgress(results[i])
			}
		}(i, r)
	}
	wg.Wait()
	return results
}

// groupByPhase splits handlers sorted by phase into one slice per phase.
func groupByPhase(regs []registration) [][]registration {
	var groups [][]registration
	for i, r := range regs {
		if i == 0 || r.phase != regs[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], r)
	}
	return groups
}
