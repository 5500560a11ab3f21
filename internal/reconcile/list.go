package reconcile

import "github.com/danmuck/boxctl/internal/watch"

// List is an ordered, keyed collection whose items live in an Arena.
// Reconcile updates retained items through their existing handles, so
// holders of a Handle observe new field values without resubscribing.
//
// List is not safe for concurrent use; callers confine it to one goroutine.
type List[K comparable, T any] struct {
	arena   Arena[T]
	order   []Handle
	index   map[K]Handle
	key     func(*T) K
	changes watch.Hub[Diff[K]]
}

func NewList[K comparable, T any](key func(*T) K) *List[K, T] {
	return &List[K, T]{
		index: make(map[K]Handle),
		key:   key,
	}
}

// Reconcile merges fresh into the list and notifies subscribers when
// anything changed.
func (l *List[K, T]) Reconcile(fresh []T, fields []Field[T]) Diff[K] {
	old := make([]*T, 0, len(l.order))
	handles := make(map[*T]Handle, len(l.order))
	for _, h := range l.order {
		item, ok := l.arena.Get(h)
		if !ok {
			continue
		}
		old = append(old, item)
		handles[item] = h
	}

	merged, diff := Merge(old, fresh, l.key, fields)

	// resolve retained handles before Alloc can move slots
	order := make([]Handle, len(merged))
	resolved := make([]bool, len(merged))
	for i, item := range merged {
		if h, ok := handles[item]; ok {
			order[i] = h
			resolved[i] = true
		}
	}
	for _, k := range diff.Removed {
		if h, ok := l.index[k]; ok {
			l.arena.Free(h)
		}
	}
	for i, item := range merged {
		if !resolved[i] {
			order[i] = l.arena.Alloc(*item)
		}
	}

	l.order = order
	l.index = make(map[K]Handle, len(order))
	for _, h := range order {
		item, _ := l.arena.Get(h)
		l.index[l.key(item)] = h
	}

	if !diff.Empty() {
		l.changes.Emit(diff)
	}
	return diff
}

// Subscribe registers fn for every non-empty reconcile.
func (l *List[K, T]) Subscribe(fn func(Diff[K])) *watch.Subscription {
	return l.changes.Subscribe(fn)
}

// Handles returns the handles in list order.
func (l *List[K, T]) Handles() []Handle {
	out := make([]Handle, len(l.order))
	copy(out, l.order)
	return out
}

func (l *List[K, T]) Get(h Handle) (*T, bool) {
	return l.arena.Get(h)
}

func (l *List[K, T]) Lookup(k K) (Handle, bool) {
	h, ok := l.index[k]
	return h, ok
}

// Items returns copies of the items in list order.
func (l *List[K, T]) Items() []T {
	out := make([]T, 0, len(l.order))
	for _, h := range l.order {
		if item, ok := l.arena.Get(h); ok {
			out = append(out, *item)
		}
	}
	return out
}

func (l *List[K, T]) Len() int {
	return len(l.order)
}
