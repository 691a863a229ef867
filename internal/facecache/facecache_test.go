package facecache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/mock"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

func rec(id, imageID string, bbox ...float64) database.EmbeddingRecord {
	return database.EmbeddingRecord{ID: id, ImageID: imageID, Vector: []float32{1, 0}, BBox: bbox}
}

func TestHasStoredFaces(t *testing.T) {
	store := mock.NewMockStore()
	store.AddRecord(rec("r1", "img-1", 0.1, 0.1, 0.2, 0.2))
	store.AddRecord(rec("r2", database.ManualImageID("p1"), 0.1, 0.1, 0.2, 0.2))
	c := New(store, 10, facematch.OriginBottomLeft)
	ctx := context.Background()

	tests := []struct {
		imageID string
		want    bool
	}{
		{"img-1", true},
		{"img-2", false},
		{database.ManualImageID("p1"), false},
	}
	for _, tt := range tests {
		got, err := c.HasStoredFaces(ctx, tt.imageID)
		if err != nil {
			t.Fatalf("HasStoredFaces(%q) error: %v", tt.imageID, err)
		}
		if got != tt.want {
			t.Errorf("HasStoredFaces(%q) = %v, want %v", tt.imageID, got, tt.want)
		}
	}

	// positive answers are remembered
	store.CountError = errors.New("down")
	if ok, err := c.HasStoredFaces(ctx, "img-1"); err != nil || !ok {
		t.Errorf("remembered HasStoredFaces = %v, %v", ok, err)
	}
	if _, err := c.HasStoredFaces(ctx, "img-2"); err == nil {
		t.Error("HasStoredFaces should surface store errors for unknown images")
	}

	c.Forget("img-1")
	if _, err := c.HasStoredFaces(ctx, "img-1"); err == nil {
		t.Error("Forget should drop the remembered answer")
	}
}

func TestMarkAnalyzed_SharedWithIn(t *testing.T) {
	store := mock.NewMockStore()
	c := New(store, 10, facematch.OriginBottomLeft)
	session := c.In(mock.NewMockStore())

	session.MarkAnalyzed("img-9")
	session.MarkAnalyzed(database.ManualImageID("p"))
	if ok, _ := c.HasStoredFaces(context.Background(), "img-9"); !ok {
		t.Error("mark through In() should be visible to the parent cache")
	}
	if ok, _ := c.HasStoredFaces(context.Background(), database.ManualImageID("p")); ok {
		t.Error("manual images are never analyzed")
	}

	c.Forget()
	if ok, _ := c.HasStoredFaces(context.Background(), "img-9"); ok {
		t.Error("Forget() should clear everything")
	}
}

func TestStoredDetections_Order(t *testing.T) {
	store := mock.NewMockStore()
	// bottom-left origin: larger Y means higher in the frame
	store.AddRecord(rec("d", "img", 0.6, 0.1, 0.2, 0.2)) // bottom right
	store.AddRecord(rec("b", "img", 0.6, 0.7, 0.2, 0.2)) // top right
	store.AddRecord(rec("a", "img", 0.1, 0.7, 0.2, 0.2)) // top left
	store.AddRecord(rec("c", "img", 0.1, 0.1, 0.2, 0.2)) // bottom left
	store.AddRecord(rec("e", "img", 0.1, 0.1, 0.2, 0.2)) // same spot as c
	store.AddRecord(rec("x", "other", 0.1, 0.7, 0.2, 0.2))
	c := New(store, 10, facematch.OriginBottomLeft)

	want := []string{"a", "b", "c", "e", "d"}
	for range 3 {
		got, err := c.StoredDetections(context.Background(), "img")
		if err != nil {
			t.Fatalf("StoredDetections() error: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("StoredDetections() returned %d records, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Fatalf("order[%d] = %s, want %s", i, got[i].ID, want[i])
			}
		}
	}
}

func TestStoredDetections_TopLeftOrigin(t *testing.T) {
	store := mock.NewMockStore()
	store.AddRecord(rec("low", "img", 0.1, 0.7, 0.2, 0.2))
	store.AddRecord(rec("high", "img", 0.1, 0.1, 0.2, 0.2))
	c := New(store, 10, facematch.OriginTopLeft)

	got, err := c.StoredDetections(context.Background(), "img")
	if err != nil {
		t.Fatalf("StoredDetections() error: %v", err)
	}
	if got[0].ID != "high" {
		t.Errorf("first = %s, want high", got[0].ID)
	}
}

func TestImageIDsWithStoredFaces(t *testing.T) {
	store := mock.NewMockStore()
	for i := range 5 {
		store.AddRecord(rec(fmt.Sprintf("r%d", i), fmt.Sprintf("img-%d", i), 0.1, 0.1, 0.2, 0.2))
	}
	store.AddRecord(rec("m", database.ManualImageID("p"), 0.1, 0.1, 0.2, 0.2))
	ctx := context.Background()

	tests := []struct {
		name          string
		scanCap       int
		scope         []string
		wantCount     int
		wantTruncated bool
	}{
		{name: "all", scanCap: 10, wantCount: 5},
		{name: "all capped", scanCap: 3, wantCount: 3, wantTruncated: true},
		{name: "cap equals total", scanCap: 5, wantCount: 5},
		{name: "scoped", scanCap: 10, scope: []string{"img-1", "img-3", "img-9", database.ManualImageID("p")}, wantCount: 2},
		{name: "scoped capped", scanCap: 1, scope: []string{"img-1", "img-3"}, wantCount: 1, wantTruncated: true},
		{name: "empty scope", scanCap: 10, scope: []string{}, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(store, tt.scanCap, facematch.OriginBottomLeft)
			ids, truncated, err := c.ImageIDsWithStoredFaces(ctx, tt.scope)
			if err != nil {
				t.Fatalf("ImageIDsWithStoredFaces() error: %v", err)
			}
			if len(ids) != tt.wantCount || truncated != tt.wantTruncated {
				t.Errorf("got %d ids (truncated %v), want %d (truncated %v)", len(ids), truncated, tt.wantCount, tt.wantTruncated)
			}
			if _, ok := ids[database.ManualImageID("p")]; ok {
				t.Error("manual images must not be reported")
			}
		})
	}
}

func TestImageIDsWithStoredFaces_Error(t *testing.T) {
	store := mock.NewMockStore()
	store.FetchError = errors.New("down")
	if _, _, err := New(store, 10, facematch.OriginBottomLeft).ImageIDsWithStoredFaces(context.Background(), nil); err == nil {
		t.Error("expected error")
	}
}
