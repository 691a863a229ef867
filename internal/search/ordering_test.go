package search

import (
	"testing"
	"time"

	"github.com/kozaktomas/face-matcher/internal/library"
)

func ref(id string, date ...int) library.ImageRef {
	r := library.ImageRef{ID: id}
	if len(date) == 3 {
		t := time.Date(date[0], time.Month(date[1]), date[2], 0, 0, 0, 0, time.UTC)
		r.CreatedAt = &t
	}
	return r
}

func TestOrderByProximity(t *testing.T) {
	anchor := func(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		refs    []library.ImageRef
		anchors []time.Time
		want    []string
	}{
		{
			name:    "nearest first",
			refs:    []library.ImageRef{ref("far", 2020, 1, 1), ref("near", 2015, 1, 2), ref("before", 2014, 12, 25)},
			anchors: []time.Time{anchor(2015, 1, 1)},
			want:    []string{"near", "before", "far"},
		},
		{
			name:    "closest of several anchors",
			refs:    []library.ImageRef{ref("a", 2010, 6, 1), ref("b", 2018, 1, 3)},
			anchors: []time.Time{anchor(2010, 1, 1), anchor(2018, 1, 1)},
			want:    []string{"b", "a"},
		},
		{
			name:    "undated last",
			refs:    []library.ImageRef{ref("u2"), ref("x", 2030, 1, 1), ref("u1")},
			anchors: []time.Time{anchor(2015, 1, 1)},
			want:    []string{"x", "u1", "u2"},
		},
		{
			name:    "ties by id",
			refs:    []library.ImageRef{ref("z", 2015, 1, 2), ref("y", 2014, 12, 31), ref("m", 2015, 1, 2)},
			anchors: []time.Time{anchor(2015, 1, 1)},
			want:    []string{"m", "y", "z"},
		},
		{
			name: "no anchors newest first",
			refs: []library.ImageRef{ref("old", 2001, 1, 1), ref("u"), ref("new", 2022, 1, 1)},
			want: []string{"new", "old", "u"},
		},
		{
			name: "empty",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderByProximity(tt.refs, tt.anchors)
			if len(got) != len(tt.want) {
				t.Fatalf("orderByProximity() returned %d refs, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i].ID != tt.want[i] {
					t.Errorf("order[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{Concurrency: 50, Continuation: "bogus", MaxImageSize: -1}.normalized()
	if o.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want clamp to 10", o.Concurrency)
	}
	if o.BatchSize != 50 || o.InitialCeiling != 2000 {
		t.Errorf("defaults not applied: %+v", o)
	}
	if o.Continuation != ContinuationBackground || o.MaxImageSize != 0 {
		t.Errorf("normalized = %+v", o)
	}
	if c := (Options{}).normalized().Concurrency; c != 4 {
		t.Errorf("zero concurrency normalized to %d, want 4", c)
	}
	if ParseContinuation("off") != ContinuationOff || ParseContinuation("") != ContinuationBackground {
		t.Error("ParseContinuation mismatch")
	}
}
