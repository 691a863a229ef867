package search

import (
	"cmp"
	"slices"
	"time"

	"github.com/kozaktomas/face-matcher/internal/library"
)

// orderByProximity sorts images by the smallest time distance between their
// capture date and any anchor, nearest first. Without anchors dated images
// are ordered newest first. Undated images always come last. Ties are broken
// by id so the order is deterministic.
func orderByProximity(refs []library.ImageRef, anchors []time.Time) []library.ImageRef {
	type keyed struct {
		ref library.ImageRef
		key time.Duration
	}

	items := make([]keyed, len(refs))
	for i, ref := range refs {
		items[i] = keyed{ref: ref}
		if ref.CreatedAt == nil {
			continue
		}
		if len(anchors) == 0 {
			// newest first: smaller key for later dates
			items[i].key = -time.Duration(ref.CreatedAt.Unix()) * time.Second
			continue
		}
		items[i].key = proximity(*ref.CreatedAt, anchors)
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		aDated, bDated := a.ref.CreatedAt != nil, b.ref.CreatedAt != nil
		if aDated != bDated {
			if aDated {
				return -1
			}
			return 1
		}
		if aDated {
			if c := cmp.Compare(a.key, b.key); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ref.ID, b.ref.ID)
	})

	out := make([]library.ImageRef, len(items))
	for i := range items {
		out[i] = items[i].ref
	}
	return out
}

func proximity(t time.Time, anchors []time.Time) time.Duration {
	best := time.Duration(1<<63 - 1)
	for _, a := range anchors {
		d := t.Sub(a)
		if d < 0 {
			d = a.Sub(t)
		}
		best = min(best, d)
	}
	return best
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
