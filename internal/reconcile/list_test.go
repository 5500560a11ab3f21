package reconcile

import (
	"slices"
	"testing"

	"github.com/danmuck/boxctl/internal/testutil/testlog"
)

func TestArenaHandlesGoStaleAfterFree(t *testing.T) {
	testlog.Start(t)
	var a Arena[int]
	h1 := a.Alloc(1)
	h2 := a.Alloc(2)
	if !a.Free(h1) {
		t.Fatalf("expected free to succeed")
	}
	if a.Free(h1) {
		t.Fatalf("double free should fail")
	}
	h3 := a.Alloc(3)
	if _, ok := a.Get(h1); ok {
		t.Fatalf("stale handle resolved after slot reuse")
	}
	if v, ok := a.Get(h3); !ok || *v != 3 {
		t.Fatalf("unexpected value for reused slot")
	}
	if v, ok := a.Get(h2); !ok || *v != 2 {
		t.Fatalf("unexpected value for h2")
	}
	if a.Len() != 2 {
		t.Fatalf("expected 2 live items, got %d", a.Len())
	}
}

func TestListReconcileKeepsHandles(t *testing.T) {
	testlog.Start(t)
	l := NewList[string](itemKey)
	l.Reconcile([]item{{Key: "a", V: 1}, {Key: "b", V: 2}}, trackV)

	hb, ok := l.Lookup("b")
	if !ok {
		t.Fatalf("expected b")
	}
	ha, _ := l.Lookup("a")

	var diffs []Diff[string]
	l.Subscribe(func(d Diff[string]) { diffs = append(diffs, d) })

	l.Reconcile([]item{{Key: "b", V: 3}, {Key: "c", V: 4}}, trackV)

	if got, _ := l.Lookup("b"); got != hb {
		t.Fatalf("retained item changed handle")
	}
	v, ok := l.Get(hb)
	if !ok || v.V != 3 {
		t.Fatalf("expected b updated through its handle, got %+v", v)
	}
	if _, ok := l.Get(ha); ok {
		t.Fatalf("removed item still resolves")
	}

	var order []string
	for _, it := range l.Items() {
		order = append(order, it.Key)
	}
	if !slices.Equal(order, []string{"b", "c"}) {
		t.Fatalf("unexpected order %v", order)
	}
	if len(diffs) != 1 || !slices.Equal(diffs[0].Added, []string{"c"}) {
		t.Fatalf("unexpected notifications %+v", diffs)
	}
}

func TestListSkipsNotificationWhenUnchanged(t *testing.T) {
	testlog.Start(t)
	l := NewList[string](itemKey)
	fresh := []item{{Key: "a", V: 1}}
	l.Reconcile(fresh, trackV)

	calls := 0
	l.Subscribe(func(Diff[string]) { calls++ })
	if d := l.Reconcile(fresh, trackV); !d.Empty() {
		t.Fatalf("expected empty diff, got %+v", d)
	}
	if calls != 0 {
		t.Fatalf("unchanged reconcile notified subscribers")
	}

	l.Reconcile(nil, trackV)
	if l.Len() != 0 || calls != 1 {
		t.Fatalf("expected empty list and one notification, len=%d calls=%d", l.Len(), calls)
	}
}
