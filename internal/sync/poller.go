// Package sync runs the background routines (deadline scan, notification
// dispatch) on independent fixed intervals.
package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Routine is one unit of background work.
type Routine interface {
	Name() string
	Run(ctx context.Context) error
}

// State represents the current state of a routine.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status holds the run state of a single routine.
type Status struct {
	Name        string
	Interval    time.Duration
	State       State
	Runs        int
	LastRun     time.Time
	LastSuccess time.Time
	Error       error
}

const defaultInterval = 5 * time.Minute

// entry holds a registered routine and its schedule. busy is held for the
// whole of every run, scheduled or manual.
type entry struct {
	routine  Routine
	interval time.Duration
	trigger  chan struct{}
	busy     gosync.Mutex
}

// Poller runs every registered routine in its own goroutine. A routine
// never overlaps with itself: ticks, RunNow and RunOnce all wait for the
// previous run to finish. A run that fails or panics is recorded and
// logged, and the loop goes on.
type Poller struct {
	entries  []*entry
	statuses map[string]*Status
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	running  bool
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a Poller. A nil logger discards output.
func New(logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		statuses: make(map[string]*Status),
		stopCh:   make(chan struct{}),
		logger:   logger,
		tracer:   otel.Tracer("github.com/nhle/signoff/internal/sync"),
	}
}

// Register adds a routine to run every interval. Registering after Start
// has no effect on the running loops.
func (p *Poller) Register(r Routine, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = append(p.entries, &entry{
		routine:  r,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	})
	p.statuses[r.Name()] = &Status{
		Name:     r.Name(),
		Interval: interval,
		State:    StateIdle,
	}
}

// Start launches one goroutine per routine. Each routine runs once
// immediately and then on its interval until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	entries := make([]*entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.Unlock()

	for _, e := range entries {
		p.wg.Add(1)
		go p.loop(ctx, e)
	}
}

// Stop halts all loops and waits for in-flight runs to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// RunNow asks the named routine to run as soon as it is idle. Requests
// made while one is already queued are merged. It reports whether the
// routine exists.
func (p *Poller) RunNow(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.routine.Name() != name {
			continue
		}
		select {
		case e.trigger <- struct{}{}:
		default:
		}
		return true
	}
	return false
}

// RunOnce runs the named routine synchronously in the caller's goroutine
// and returns its error. If the routine's loop is mid-run, RunOnce waits
// for that run to finish first.
func (p *Poller) RunOnce(ctx context.Context, name string) error {
	p.mu.Lock()
	var target *entry
	for _, e := range p.entries {
		if e.routine.Name() == name {
			target = e
			break
		}
	}
	p.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown routine %q", name)
	}
	return p.run(ctx, target)
}

// Statuses returns a snapshot of every routine's status, sorted by name.
func (p *Poller) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]Status, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// loop runs the schedule for a single routine.
func (p *Poller) loop(ctx context.Context, e *entry) {
	defer p.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	_ = p.run(ctx, e)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.run(ctx, e)
		case <-e.trigger:
			_ = p.run(ctx, e)
		}
	}
}

// run performs one traced, panic-safe invocation and records its outcome.
func (p *Poller) run(ctx context.Context, e *entry) (err error) {
	e.busy.Lock()
	defer e.busy.Unlock()

	name := e.routine.Name()
	p.setStatus(name, StateRunning, nil)

	ctx, span := p.tracer.Start(ctx, "routine."+name,
		trace.WithAttributes(attribute.String("routine.name", name)))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("routine %s panicked: %v", name, r)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.setStatus(name, StateError, err)
			p.logger.Error("routine failed",
				zap.String("routine", name),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err),
			)
		} else {
			p.setStatus(name, StateIdle, nil)
			p.logger.Debug("routine finished",
				zap.String("routine", name),
				zap.Duration("elapsed", time.Since(started)),
			)
		}
		span.End()
	}()

	return e.routine.Run(ctx)
}

// setStatus updates the status for a routine.
func (p *Poller) setStatus(name string, state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[name]
	if !ok {
		return
	}

	now := time.Now()
	status.State = state
	status.Error = err
	switch state {
	case StateRunning:
		status.LastRun = now
		status.Runs++
	case StateIdle:
		status.LastSuccess = now
	}
}
