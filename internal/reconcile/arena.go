package reconcile

// Handle addresses one slot in an Arena. A handle stays valid until its item
// is freed; a freed handle never resolves again, even if the slot is reused.
type Handle struct {
	index uint32
	gen   uint32
}

type slot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Arena stores items behind stable handles.
// Pointers returned by Get are only valid until the next Alloc.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *Arena[T]) Alloc(v T) Handle {
	a.live++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.live = true
		s.value = v
		return Handle{index: idx, gen: s.gen}
	}
	a.slots = append(a.slots, slot[T]{live: true, value: v})
	return Handle{index: uint32(len(a.slots) - 1)}
}

func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return &s.value, true
}

// Free releases h. It reports false for stale or unknown handles.
func (a *Arena[T]) Free(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	s := &a.slots[h.index]
	var zero T
	s.value = zero
	s.live = false
	s.gen++
	a.free = append(a.free, h.index)
	a.live--
	return true
}

func (a *Arena[T]) Len() int {
	return a.live
}
