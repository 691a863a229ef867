package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// AnalyzeImage stores the unattributed faces of a library image unless it
// was analyzed before, then returns its faces in reading order.
func (e *Engine) AnalyzeImage(ctx context.Context, imageID string) ([]database.EmbeddingRecord, error) {
	analyzed, err := e.cache.HasStoredFaces(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if analyzed {
		return e.cache.StoredDetections(ctx, imageID)
	}

	ref, err := e.source.Lookup(ctx, imageID)
	if err != nil {
		return nil, err
	}
	img, err := e.source.Load(ctx, ref, e.opts.Search.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", imageID, err)
	}
	faces := e.extractor.Extract(ctx, img.Image, img.Orientation)
	if len(faces) == 0 {
		return nil, nil
	}

	session, err := e.store.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	for i, f := range faces {
		d := f.Detection
		rec := &database.EmbeddingRecord{
			ImageID:      ref.ID,
			FaceIndex:    i,
			Vector:       f.Vector,
			BBox:         d.BBox.Slice(),
			Confidence:   d.Confidence,
			QualityScore: d.Quality,
			Yaw:          d.Pose.Yaw,
			Pitch:        d.Pose.Pitch,
			Roll:         d.Pose.Roll,
			Thumbnail:    f.Thumbnail,
			Model:        e.extractor.Model(),
		}
		if ref.CreatedAt != nil {
			rec.ImageDate = *ref.CreatedAt
		}
		if err := session.Insert(ctx, rec); err != nil && !errors.Is(err, database.ErrDuplicateFace) {
			return nil, fmt.Errorf("store face: %w", err)
		}
	}
	if err := session.Save(ctx); err != nil {
		return nil, fmt.Errorf("save faces: %w", err)
	}
	e.cache.MarkAnalyzed(ref.ID)

	return e.cache.StoredDetections(ctx, ref.ID)
}

// VerifyFace confirms that a stored face belongs to the person and
// refreshes the clusters it affects.
func (e *Engine) VerifyFace(ctx context.Context, recordID, personID string) error {
	if err := e.requirePerson(ctx, personID); err != nil {
		return err
	}
	return e.reassign(ctx, recordID, personID)
}

// UnassignFace clears the owner and verification of a stored face.
func (e *Engine) UnassignFace(ctx context.Context, recordID string) error {
	return e.reassign(ctx, recordID, "")
}

func (e *Engine) reassign(ctx context.Context, recordID, personID string) error {
	rec, err := e.store.Get(ctx, recordID)
	if err != nil {
		return fmt.Errorf("get face: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrFaceNotFound, recordID)
	}

	session, err := e.store.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	verified := personID != ""
	representative := verified && rec.OwnerID == personID && rec.IsRepresentative
	if err := session.UpdateOwner(ctx, recordID, personID, verified, representative); err != nil {
		return fmt.Errorf("update face: %w", err)
	}

	// clusters depend only on verified faces
	var owners []string
	if rec.IsAssigned() && rec.IsVerified {
		owners = append(owners, rec.OwnerID)
	}
	if personID != "" && !slices.Contains(owners, personID) {
		owners = append(owners, personID)
	}
	for _, owner := range owners {
		if _, err := database.RefreshCluster(ctx, session, owner); err != nil {
			return fmt.Errorf("refresh cluster: %w", err)
		}
	}
	if err := session.Save(ctx); err != nil {
		return fmt.Errorf("save face: %w", err)
	}
	return nil
}

// SimilarFace is a stored face ranked by similarity to a query face.
type SimilarFace struct {
	Record     database.EmbeddingRecord
	Similarity float64
}

// SimilarFaces finds stored faces resembling the given one across the whole
// store. Candidates come from the HNSW index and are ranked exactly.
func (e *Engine) SimilarFaces(ctx context.Context, recordID string, threshold float64, topK int) ([]SimilarFace, error) {
	threshold, topK = e.exploratory(threshold, topK)

	query, err := e.store.Get(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("get face: %w", err)
	}
	if query == nil {
		return nil, fmt.Errorf("%w: %s", ErrFaceNotFound, recordID)
	}

	idx, err := e.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	ids, _, err := idx.Search(query.Vector, (topK+1)*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, fmt.Errorf("search similarity index: %w", err)
	}

	candidates := make([]facematch.Candidate, 0, len(ids))
	for _, id := range ids {
		if rec := idx.Get(id); rec != nil {
			candidates = append(candidates, facematch.Candidate{ID: id, Vector: rec.Vector})
		}
	}

	scored := facematch.FindSimilar(facematch.Candidate{ID: query.ID, Vector: query.Vector}, candidates, threshold, topK)
	// results are read back so owners reflect other writers
	out := make([]SimilarFace, 0, len(scored))
	for _, s := range scored {
		rec, err := e.store.Get(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("get face: %w", err)
		}
		if rec != nil {
			out = append(out, SimilarFace{Record: *rec, Similarity: s.Similarity})
		}
	}
	return out, nil
}

// ensureIndex returns an index covering the store. Writes through this
// engine are applied as they are saved; a record count that drifted, e.g.
// from another process sharing the database, triggers a rebuild.
func (e *Engine) ensureIndex(ctx context.Context) (*database.HNSWIndex, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	e.loadIndexLocked()
	total, err := e.store.Count(ctx, database.Filter{})
	if err != nil {
		return nil, fmt.Errorf("count faces: %w", err)
	}
	if e.index != nil && !e.index.IsEmpty() && e.index.Count() == total {
		return e.index, nil
	}

	records, err := e.store.Fetch(ctx, database.Filter{}, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch faces: %w", err)
	}
	idx := database.NewHNSWIndex()
	idx.BuildFromRecords(records)
	e.index = idx
	return idx, nil
}

// DeleteAllFaceData removes every stored face and cluster.
func (e *Engine) DeleteAllFaceData(ctx context.Context) (int, error) {
	session, err := e.store.NewSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	n, err := session.Delete(ctx, database.Filter{})
	if err != nil {
		return 0, fmt.Errorf("delete faces: %w", err)
	}
	if err := session.DeleteAllClusters(ctx); err != nil {
		return 0, fmt.Errorf("delete clusters: %w", err)
	}
	if err := session.Save(ctx); err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}

	e.cache.Forget()
	return n, nil
}
