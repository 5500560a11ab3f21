package boxes

import (
	"context"
	"slices"
	"sync"

	"github.com/danmuck/boxctl/internal/loop"
	"github.com/danmuck/boxctl/internal/query"
	"github.com/danmuck/boxctl/internal/reconcile"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/task"
	"github.com/danmuck/boxctl/internal/watch"
	"github.com/rs/zerolog/log"
)

// TrackedFields are copied into retained containers on every refresh.
var TrackedFields = []reconcile.Field[Container]{
	reconcile.FieldOf("id", func(c *Container) *string { return &c.ID }),
	reconcile.FieldOf("status", func(c *Container) *string { return &c.Status }),
	reconcile.FieldOf("image", func(c *Container) *string { return &c.Image }),
}

func containerKey(c *Container) string {
	return c.Name
}

// Store runs the list command through a query and reconciles each result
// into a name-keyed list.
type Store struct {
	loop  *loop.Loop
	query *query.Query[[]Container]
	items *reconcile.List[string, Container]

	mu       sync.RWMutex
	snapshot []Container

	watcher *watch.Watcher
}

// NewStore builds a store that lists containers with spec. Options are
// passed to the underlying query.
func NewStore(l *loop.Loop, r runner.Runner, spec runner.CommandSpec, opts ...query.Option) *Store {
	s := &Store{
		loop:  l,
		items: reconcile.NewList[string](containerKey),
	}
	fetch := func(ctx context.Context) ([]Container, error) {
		res, err := r.Run(ctx, spec)
		if err != nil {
			return nil, err
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return ParseList(res.Stdout)
	}
	s.query = query.New(l, "containers", fetch, opts...)
	s.query.OnSuccess(s.apply)
	return s
}

// apply runs on the loop.
func (s *Store) apply(fresh []Container) {
	diff := s.items.Reconcile(fresh, TrackedFields)
	s.mu.Lock()
	s.snapshot = s.items.Items()
	s.mu.Unlock()
	if !diff.Empty() {
		log.Debug().
			Strs("added", diff.Added).
			Strs("removed", diff.Removed).
			Int("updated", len(diff.Updated)).
			Bool("reordered", diff.Reordered).
			Msg("boxes.Store.apply")
	}
}

func (s *Store) Query() *query.Query[[]Container] {
	return s.query
}

// Refresh starts a new fetch, superseding one in flight.
func (s *Store) Refresh() {
	s.query.Refetch()
}

// Containers returns the reconciled list. Safe from any goroutine.
func (s *Store) Containers() []Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshot)
}

// Items exposes the reconciled list. Use it only on the loop.
func (s *Store) Items() *reconcile.List[string, Container] {
	return s.items
}

// Subscribe registers fn for list changes. fn runs on the loop.
func (s *Store) Subscribe(fn func(reconcile.Diff[string])) *watch.Subscription {
	return s.items.Subscribe(fn)
}

// RefreshAfterTasks refetches the list whenever a task managed by m ends.
func (s *Store) RefreshAfterTasks(m *task.Manager) {
	m.OnEnded(func(t *task.Task) {
		log.Debug().Str("task", t.ID()).Msg("boxes.Store refresh after task")
		s.Refresh()
	})
}

// Watch refetches whenever one of paths changes on disk.
func (s *Store) Watch(ctx context.Context, paths []string, opts ...watch.WatcherOption) error {
	w := watch.NewWatcher(paths, s.Refresh, opts...)
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

func (s *Store) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.query.Close()
}
