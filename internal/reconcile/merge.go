// Package reconcile merges freshly fetched keyed collections into previously
// observed ones without replacing items whose key survived.
package reconcile

import "slices"

// Field is one tracked field of T. Equal compares it between two items and
// Copy moves it from src into dst.
type Field[T any] struct {
	Name  string
	Equal func(a, b *T) bool
	Copy  func(dst, src *T)
}

// FieldOf builds a Field from an accessor returning a pointer to a
// comparable member.
func FieldOf[T any, V comparable](name string, ptr func(*T) *V) Field[T] {
	return Field[T]{
		Name:  name,
		Equal: func(a, b *T) bool { return *ptr(a) == *ptr(b) },
		Copy:  func(dst, src *T) { *ptr(dst) = *ptr(src) },
	}
}

// Diff summarises one merge.
type Diff[K comparable] struct {
	Added   []K
	Removed []K
	// Updated maps retained keys to the names of fields that changed.
	Updated   map[K][]string
	Reordered bool
}

func (d Diff[K]) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0 && !d.Reordered
}

// Merge reconciles old against fresh.
//
// Items whose key appears in both keep their pointer and receive the tracked
// fields from fresh. Keys only in fresh become new items, keys only in old are
// dropped, and the result follows fresh order. When a key repeats, the first
// occurrence wins in both inputs. Neither input is modified except through
// the tracked fields of retained items.
func Merge[K comparable, T any](old []*T, fresh []T, key func(*T) K, fields []Field[T]) ([]*T, Diff[K]) {
	var diff Diff[K]

	prev := make(map[K]*T, len(old))
	var prevOrder []K
	for _, item := range old {
		if item == nil {
			continue
		}
		k := key(item)
		if _, dup := prev[k]; dup {
			continue
		}
		prev[k] = item
		prevOrder = append(prevOrder, k)
	}

	out := make([]*T, 0, len(fresh))
	seen := make(map[K]struct{}, len(fresh))
	var retainedOrder []K
	for i := range fresh {
		src := &fresh[i]
		k := key(src)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		existing, ok := prev[k]
		if !ok {
			item := *src
			out = append(out, &item)
			diff.Added = append(diff.Added, k)
			continue
		}

		var changed []string
		for _, f := range fields {
			if !f.Equal(existing, src) {
				f.Copy(existing, src)
				changed = append(changed, f.Name)
			}
		}
		if len(changed) > 0 {
			if diff.Updated == nil {
				diff.Updated = make(map[K][]string)
			}
			diff.Updated[k] = changed
		}
		out = append(out, existing)
		retainedOrder = append(retainedOrder, k)
	}

	var keptInOldOrder []K
	for _, k := range prevOrder {
		if _, ok := seen[k]; ok {
			keptInOldOrder = append(keptInOldOrder, k)
			continue
		}
		diff.Removed = append(diff.Removed, k)
	}
	diff.Reordered = !slices.Equal(keptInOldOrder, retainedOrder)
	return out, diff
}
