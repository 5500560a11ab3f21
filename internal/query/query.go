// Package query implements a named asynchronous value with cached state.
//
// Ownership boundary:
//   - Every state transition runs on the owning loop.Loop.
//   - Fetches run on their own goroutines and post completions back.
//   - A completion is committed only when its generation is still the
//     latest; late results of superseded fetches are dropped.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/boxctl/internal/loop"
	"github.com/danmuck/boxctl/internal/observability"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/watch"
	"github.com/rs/zerolog/log"
)

var ErrTimeout = errors.New("query: timeout")

// errStaleSuperseded marks a completion dropped because a newer fetch was
// started. It never reaches state or observers.
var errStaleSuperseded = errors.New("query: stale result superseded")

// Fetcher produces the query value. It should return promptly once ctx is
// done.
type Fetcher[T any] func(ctx context.Context) (T, error)

// State is a point-in-time snapshot of a query.
type State[T any] struct {
	Data          T
	HasData       bool
	IsLoading     bool
	Err           error
	LastFetchedAt time.Time
	Generation    uint64
}

type Query[T any] struct {
	name  string
	loop  *loop.Loop
	fetch Fetcher[T]
	opts  options

	root       context.Context
	rootCancel context.CancelFunc

	mu    sync.RWMutex
	state State[T]

	// loop-owned
	inflight context.CancelFunc
	closed   bool

	states  watch.Hub[State[T]]
	success watch.Hub[T]
	failure watch.Hub[error]
	loading watch.Hub[bool]
}

// New creates a query that runs fetch on demand. State transitions and
// notifications happen on l.
func New[T any](l *loop.Loop, name string, fetch Fetcher[T], opts ...Option) *Query[T] {
	q := &Query[T]{
		name:  name,
		loop:  l,
		fetch: fetch,
	}
	for _, opt := range opts {
		opt(&q.opts)
	}
	q.root, q.rootCancel = context.WithCancel(context.Background())
	observability.RegisterMetrics()

	if q.opts.interval > 0 {
		go q.tick(q.opts.interval)
	}
	if q.opts.enabled {
		q.Refetch()
	}
	return q
}

func (q *Query[T]) Name() string {
	return q.name
}

// State returns the current snapshot. Safe from any goroutine.
func (q *Query[T]) State() State[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// Data returns the last committed value and whether one exists.
func (q *Query[T]) Data() (T, bool) {
	s := q.State()
	return s.Data, s.HasData
}

// Subscribe registers fn for every state change.
func (q *Query[T]) Subscribe(fn func(State[T])) *watch.Subscription {
	return q.states.Subscribe(fn)
}

// OnSuccess registers fn for every committed value.
func (q *Query[T]) OnSuccess(fn func(T)) *watch.Subscription {
	return q.success.Subscribe(fn)
}

// OnError registers fn for every committed failure.
func (q *Query[T]) OnError(fn func(error)) *watch.Subscription {
	return q.failure.Subscribe(fn)
}

// OnLoading registers fn for changes of the loading flag.
func (q *Query[T]) OnLoading(fn func(bool)) *watch.Subscription {
	return q.loading.Subscribe(fn)
}

// Refetch starts a new generation, superseding any fetch in flight.
func (q *Query[T]) Refetch() {
	if !q.loop.Post(q.start) {
		log.Debug().Str("query", q.name).Msg("query.Query.Refetch on closed loop")
	}
}

// Close stops interval refetches and cancels in-flight work. Results that
// arrive afterwards are dropped.
func (q *Query[T]) Close() {
	q.rootCancel()
	q.loop.Post(func() {
		if q.closed {
			return
		}
		q.closed = true
		q.inflight = nil
		if !q.State().IsLoading {
			return
		}
		s := q.commit(func(s *State[T]) { s.IsLoading = false })
		q.states.Emit(s)
		q.loading.Emit(false)
	})
}

func (q *Query[T]) tick(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.root.Done():
			return
		case <-ticker.C:
			q.loop.Post(func() {
				if q.State().IsLoading {
					return
				}
				q.start()
			})
		}
	}
}

func (q *Query[T]) commit(mutate func(*State[T])) State[T] {
	q.mu.Lock()
	mutate(&q.state)
	s := q.state
	q.mu.Unlock()
	return s
}

// start runs on the loop.
func (q *Query[T]) start() {
	if q.closed || q.root.Err() != nil {
		return
	}
	if q.inflight != nil {
		q.inflight()
	}
	ctx, cancel := context.WithCancel(q.root)
	q.inflight = cancel

	wasLoading := q.State().IsLoading
	s := q.commit(func(s *State[T]) {
		s.Generation++
		s.IsLoading = true
		s.Err = nil
	})
	log.Debug().Str("query", q.name).Uint64("generation", s.Generation).Msg("query.Query.start")

	q.states.Emit(s)
	if !wasLoading {
		q.loading.Emit(true)
	}
	go q.run(ctx, s.Generation)
}

func (q *Query[T]) run(ctx context.Context, gen uint64) {
	started := time.Now()
	data, err := q.attempts(ctx)
	elapsed := time.Since(started)
	q.loop.Post(func() {
		q.complete(gen, data, err, elapsed)
	})
}

func (q *Query[T]) attempts(ctx context.Context) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		data, err := q.attempt(ctx)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", runner.ErrCancelled, ctx.Err())
		}
		if !q.transient(err) || q.opts.retry == nil {
			return zero, err
		}
		delay, again := q.opts.retry(attempt)
		if !again {
			return zero, err
		}
		log.Debug().
			Str("query", q.name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("query.Query.attempts retrying")
		observability.RecordQueryFetch(q.name, "retry", 0)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%w: %w", runner.ErrCancelled, ctx.Err())
			case <-timer.C:
			}
		}
	}
}

type outcome[T any] struct {
	data T
	err  error
}

// attempt runs fetch once. A fetch that ignores its context is abandoned
// when the attempt times out or is cancelled.
func (q *Query[T]) attempt(ctx context.Context) (T, error) {
	var zero T
	actx, cancel := ctx, context.CancelFunc(func() {})
	if q.opts.timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, q.opts.timeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		data, err := q.fetch(actx)
		done <- outcome[T]{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, q.opts.timeout, out.err)
		}
		return out.data, out.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, q.opts.timeout)
	}
}

func (q *Query[T]) transient(err error) bool {
	switch {
	case errors.Is(err, runner.ErrCancelled), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, runner.ErrSpawn):
		return q.opts.retrySpawnErrors
	default:
		return false
	}
}

// complete runs on the loop.
func (q *Query[T]) complete(gen uint64, data T, err error, elapsed time.Duration) {
	if q.closed || q.root.Err() != nil || gen != q.State().Generation {
		log.Debug().
			Str("query", q.name).
			Uint64("generation", gen).
			Err(errStaleSuperseded).
			Msg("query.Query.complete discarded")
		observability.RecordQueryStale(q.name)
		return
	}
	if q.inflight != nil {
		q.inflight()
		q.inflight = nil
	}

	s := q.commit(func(s *State[T]) {
		s.IsLoading = false
		if err != nil {
			s.Err = err
			return
		}
		s.Data = data
		s.HasData = true
		s.Err = nil
		s.LastFetchedAt = time.Now()
	})

	if err != nil {
		observability.RecordQueryFetch(q.name, "error", elapsed)
		log.Warn().Str("query", q.name).Uint64("generation", gen).Err(err).Msg("query.Query.complete failed")
	} else {
		observability.RecordQueryFetch(q.name, "success", elapsed)
	}

	q.states.Emit(s)
	q.loading.Emit(false)
	if err != nil {
		q.failure.Emit(err)
		return
	}
	q.success.Emit(data)
}
