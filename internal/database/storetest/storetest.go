// Package storetest holds a behavioural test suite shared by every
// database.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
)

// Options describes optional behaviour of the store under test.
type Options struct {
	// Transactional stores discard unsaved session writes on Close.
	Transactional bool
}

func record(imageID string, faceIndex int, vec ...float32) *database.EmbeddingRecord {
	q := 0.8
	return &database.EmbeddingRecord{
		ImageID:      imageID,
		FaceIndex:    faceIndex,
		Vector:       vec,
		BBox:         []float64{0.1, 0.2, 0.3, 0.4},
		Confidence:   0.9,
		QualityScore: &q,
		Yaw:          5,
		ImageDate:    time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC),
		Thumbnail:    []byte{0xff, 0xd8},
		Model:        "test",
	}
}

func mustSession(t *testing.T, s database.Store) database.Session {
	t.Helper()
	sess, err := s.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// Run exercises s, which must start empty.
func Run(t *testing.T, s database.Store, opts Options) {
	ctx := context.Background()

	t.Run("InsertAndFetch", func(t *testing.T) {
		sess := mustSession(t, s)
		a := record("img-a", 0, 1, 0, 0)
		b := record("img-a", 1, 0, 1, 0)
		c := record("manual:p1", 0, 0, 0, 1)
		for _, rec := range []*database.EmbeddingRecord{b, a, c} {
			if err := sess.Insert(ctx, rec); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if rec.ID == "" {
				t.Fatal("Insert did not assign an id")
			}
		}
		if err := sess.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := database.FetchByImage(ctx, s, "img-a")
		if err != nil {
			t.Fatalf("FetchByImage: %v", err)
		}
		if len(got) != 2 || got[0].FaceIndex != 0 || got[1].FaceIndex != 1 {
			t.Fatalf("FetchByImage = %+v", got)
		}
		if len(got[0].Vector) != 3 || got[0].Vector[0] != 1 {
			t.Errorf("vector not round-tripped: %v", got[0].Vector)
		}
		if got[0].QualityScore == nil || *got[0].QualityScore != 0.8 {
			t.Errorf("quality not round-tripped: %v", got[0].QualityScore)
		}
		if len(got[0].BBox) != 4 || got[0].BBox[3] != 0.4 {
			t.Errorf("bbox not round-tripped: %v", got[0].BBox)
		}
		if !got[0].ImageDate.Equal(a.ImageDate) {
			t.Errorf("image date = %v, want %v", got[0].ImageDate, a.ImageDate)
		}

		one, err := s.Get(ctx, a.ID)
		if err != nil || one == nil || one.ImageID != "img-a" {
			t.Errorf("Get = %+v, %v", one, err)
		}
		missing, err := s.Get(ctx, "does-not-exist")
		if err != nil || missing != nil {
			t.Errorf("Get(missing) = %+v, %v", missing, err)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		sess := mustSession(t, s)
		err := sess.Insert(ctx, record("img-a", 0, 1, 1, 1))
		if !errors.Is(err, database.ErrDuplicateFace) {
			t.Fatalf("Insert duplicate err = %v, want ErrDuplicateFace", err)
		}
		if err := sess.Save(ctx); err != nil {
			t.Fatalf("Save after duplicate: %v", err)
		}
	})

	t.Run("FiltersAndImageIDs", func(t *testing.T) {
		ids, err := s.ImageIDs(ctx, database.Filter{ExcludeImagePrefix: "manual:"}, 0)
		if err != nil {
			t.Fatalf("ImageIDs: %v", err)
		}
		if len(ids) != 1 || ids[0] != "img-a" {
			t.Errorf("ImageIDs = %v, want [img-a]", ids)
		}

		n, err := s.Count(ctx, database.Filter{ImageIDs: []string{"img-a", "manual:p1"}})
		if err != nil || n != 3 {
			t.Errorf("Count(ImageIDs) = %d, %v; want 3", n, err)
		}

		capped, err := s.ImageIDs(ctx, database.Filter{}, 1)
		if err != nil || len(capped) != 1 {
			t.Errorf("ImageIDs(limit 1) = %v, %v", capped, err)
		}
	})

	t.Run("UpdateOwner", func(t *testing.T) {
		recs, _ := database.FetchByImage(ctx, s, "img-a")
		sess := mustSession(t, s)
		if err := sess.UpdateOwner(ctx, recs[1].ID, "p1", true, true); err != nil {
			t.Fatalf("UpdateOwner: %v", err)
		}
		owns, err := database.OwnerHasImage(ctx, sess, "p1", "img-a")
		if err != nil || !owns {
			t.Errorf("session does not see its own write: %v, %v", owns, err)
		}
		if err := sess.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}

		verified, err := database.FetchByOwner(ctx, s, "p1", true)
		if err != nil || len(verified) != 1 || !verified[0].IsRepresentative {
			t.Errorf("FetchByOwner = %+v, %v", verified, err)
		}
		unassigned, _ := s.Count(ctx, database.Filter{ImageID: "img-a", Unassigned: true})
		if unassigned != 1 {
			t.Errorf("unassigned count = %d, want 1", unassigned)
		}

		err = sess.UpdateOwner(ctx, "does-not-exist", "p1", false, false)
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("UpdateOwner(missing) err = %v, want ErrNotFound", err)
		}
	})

	if opts.Transactional {
		t.Run("CloseDiscardsUnsaved", func(t *testing.T) {
			sess, err := s.NewSession(ctx)
			if err != nil {
				t.Fatalf("NewSession: %v", err)
			}
			if err := sess.Insert(ctx, record("img-unsaved", 0, 1, 0, 0)); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if err := sess.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if has, _ := database.HasImage(ctx, s, "img-unsaved"); has {
				t.Error("unsaved insert survived Close")
			}
		})
	}

	t.Run("Clusters", func(t *testing.T) {
		sess := mustSession(t, s)
		cluster, err := database.RefreshCluster(ctx, sess, "p1")
		if err != nil || cluster == nil || cluster.Count != 1 {
			t.Fatalf("RefreshCluster = %+v, %v", cluster, err)
		}
		if err := sess.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.GetCluster(ctx, "p1")
		if err != nil || got == nil || len(got.Centroid) != 3 {
			t.Fatalf("GetCluster = %+v, %v", got, err)
		}

		none, err := database.RefreshCluster(ctx, sess, "nobody")
		if err != nil || none != nil {
			t.Errorf("RefreshCluster(empty) = %+v, %v", none, err)
		}

		if err := sess.DeleteAllClusters(ctx); err != nil {
			t.Fatalf("DeleteAllClusters: %v", err)
		}
		if err := sess.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if got, _ := s.GetCluster(ctx, "p1"); got != nil {
			t.Error("cluster survived DeleteAllClusters")
		}
	})

	t.Run("People", func(t *testing.T) {
		p := &database.Person{
			Name:             "Jiří Novák",
			PrimaryImageID:   "img-a",
			PrimaryImageDate: time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC),
		}
		if err := s.SavePerson(ctx, p); err != nil {
			t.Fatalf("SavePerson: %v", err)
		}
		if p.ID == "" {
			t.Fatal("SavePerson did not assign an id")
		}

		p.PrimaryPhoto = []byte{1, 2, 3}
		if err := s.SavePerson(ctx, p); err != nil {
			t.Fatalf("SavePerson update: %v", err)
		}
		got, err := s.GetPerson(ctx, p.ID)
		if err != nil || got == nil || got.Name != p.Name || len(got.PrimaryPhoto) != 3 {
			t.Fatalf("GetPerson = %+v, %v", got, err)
		}
		if !got.PrimaryImageDate.Equal(p.PrimaryImageDate) {
			t.Errorf("primary date = %v", got.PrimaryImageDate)
		}

		people, err := s.ListPeople(ctx)
		if err != nil || len(people) != 1 {
			t.Errorf("ListPeople = %+v, %v", people, err)
		}

		if err := s.DeletePerson(ctx, p.ID); err != nil {
			t.Fatalf("DeletePerson: %v", err)
		}
		if got, _ := s.GetPerson(ctx, p.ID); got != nil {
			t.Error("person survived delete")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		sess := mustSession(t, s)
		n, err := sess.Delete(ctx, database.Filter{ExcludeImagePrefix: "manual:"})
		if err != nil || n != 2 {
			t.Fatalf("Delete = %d, %v; want 2", n, err)
		}
		if err := sess.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if n, _ := s.Count(ctx, database.Filter{}); n != 1 {
			t.Errorf("remaining = %d, want 1", n)
		}
	})
}
