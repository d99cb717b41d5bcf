// Package coordinator owns the execution engine. Every engine access runs
// on one worker goroutine, one request at a time.
package coordinator

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/loader"
	"DeepReplay/internal/observability"
	"DeepReplay/internal/state"
	"DeepReplay/internal/transport"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the coordinator lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

type request struct {
	kind  string
	run   func(ctx context.Context) (any, error)
	reply chan response
}

type response struct {
	val any
	err error
}

// loadedVenue is a venue whose state is in the engine.
type loadedVenue struct {
	Venue
	checkpoint uint64
	objects    int
	isDefault  bool
}

// Coordinator serializes all engine access through a single worker.
type Coordinator struct {
	cfg       Config
	eng       engine.Engine
	transport transport.Transport
	loaders   *loader.Registry
	converter *codec.Converter
	store     *state.ObjectStore
	logger    zerolog.Logger
	metrics   *observability.Metrics

	state    atomic.Int32
	requests chan request
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	startup  atomic.Pointer[StartupReport]

	// Owned by the worker goroutine.
	venues       map[string]*loadedVenue
	reserves     map[string]*reserveCoin
	defaultVenue *ProvisionedVenue
	digest       *DigestChain
}

// New wires a coordinator. tr may be nil, in which case no reference data
// is fetched during bootstrapping.
func New(
	cfg Config,
	eng engine.Engine,
	tr transport.Transport,
	loaders *loader.Registry,
	converter *codec.Converter,
	store *state.ObjectStore,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DeepSymbol == "" {
		cfg.DeepSymbol = "DEEP"
	}
	if cfg.SessionBoundary.IsZero() {
		cfg.SessionBoundary = cfg.Sender
	}
	return &Coordinator{
		cfg:       cfg,
		eng:       eng,
		transport: tr,
		loaders:   loaders,
		converter: converter,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		requests:  make(chan request, cfg.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		venues:    make(map[string]*loadedVenue),
		reserves:  make(map[string]*reserveCoin),
		digest:    NewDigestChain(),
	}
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetCoordinatorState(int(s))
}

// Start runs bootstrapping on the worker and blocks until it finishes.
// A non-nil error is fatal: the coordinator never becomes ready and the
// worker has exited. ctx bounds the worker's lifetime.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateBootstrapping)) {
		return fmt.Errorf("coordinator already started (state %s)", c.State())
	}
	c.metrics.SetCoordinatorState(int(StateBootstrapping))
	ready := make(chan error, 1)
	go c.run(ctx, ready)
	return <-ready
}

func (c *Coordinator) run(ctx context.Context, ready chan<- error) {
	defer close(c.done)

	start := time.Now()
	if err := c.bootstrap(ctx); err != nil {
		c.setState(StateShuttingDown)
		c.logger.Error().Err(err).Msg("bootstrap failed")
		ready <- err
		return
	}
	if !c.state.CompareAndSwap(int32(StateBootstrapping), int32(StateReady)) {
		ready <- ErrChannelClosed
		return
	}
	c.metrics.SetCoordinatorState(int(StateReady))
	c.logger.Info().Dur("took", time.Since(start)).Int("venues", len(c.venues)).Msg("coordinator ready")
	ready <- nil

	for {
		select {
		case req := <-c.requests:
			c.metrics.SetQueueDepth(len(c.requests))
			c.handle(ctx, req)
		case <-c.quit:
			c.logger.Info().Msg("worker stopped")
			return
		case <-ctx.Done():
			c.setState(StateShuttingDown)
			c.logger.Info().Err(ctx.Err()).Msg("worker context done")
			return
		}
	}
}

// Shutdown stops the worker after the in-flight request completes. Queued
// and future requests fail with ErrChannelClosed.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateShuttingDown)))
		c.metrics.SetCoordinatorState(int(StateShuttingDown))
		if prev == StateUninitialized {
			close(c.done)
			return
		}
		close(c.quit)
		<-c.done
	})
}

// Done is closed once the worker has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) handle(ctx context.Context, req request) {
	start := time.Now()
	var resp response
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().
					Str("kind", req.kind).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("request panicked")
				resp = response{err: fmt.Errorf("%s: internal error: %v", req.kind, r)}
			}
		}()
		resp.val, resp.err = req.run(ctx)
	}()

	outcome := "ok"
	if resp.err != nil {
		outcome = "error"
		c.logger.Debug().Err(resp.err).Str("kind", req.kind).Msg("request failed")
	}
	c.metrics.RecordRequest(req.kind, outcome, time.Since(start).Seconds())
	req.reply <- resp
}

// submit enqueues fn and waits for the worker's reply. ctx only bounds the
// wait for queue space; a dequeued request always runs to completion.
func (c *Coordinator) submit(ctx context.Context, kind string, fn func(context.Context) (any, error)) (any, error) {
	switch c.State() {
	case StateReady:
	case StateShuttingDown:
		return nil, ErrChannelClosed
	default:
		return nil, ErrNotReady
	}

	req := request{kind: kind, run: fn, reply: make(chan response, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.metrics.SetQueueDepth(len(c.requests))

	select {
	case resp := <-req.reply:
		return resp.val, resp.err
	case <-c.done:
		select {
		case resp := <-req.reply:
			return resp.val, resp.err
		default:
			return nil, ErrChannelClosed
		}
	}
}

func call[T any](ctx context.Context, c *Coordinator, kind string, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.submit(ctx, kind, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Coordinator) venue(id string) (*loadedVenue, error) {
	v, ok := c.venues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVenueNotLoaded, id)
	}
	return v, nil
}
