package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/extractor"
	"github.com/kozaktomas/face-matcher/internal/library"
)

// batcher processes images in sequential batches against one session. Only
// extraction runs concurrently; every session call happens on the caller's
// goroutine.
type batcher struct {
	s        *Search
	session  database.Session
	refs     [][]float32
	progress ProgressFunc

	total     int
	processed int
	matched   int
	owned     map[string]struct{} // images attributed during this run
}

// extract runs extraction batch by batch, persisting every accepted face
// and attributing the best matching one per image to the person.
func (b *batcher) extract(ctx context.Context, images []library.ImageRef, phase Phase) error {
	o := b.s.o
	for batch := range slices.Chunk(images, o.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := make([][]extractor.Face, len(batch))
		sem := make(chan struct{}, o.opts.Concurrency)
		var wg sync.WaitGroup
		for i, ref := range batch {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = o.analyze(ctx, ref)
			}()
		}
		wg.Wait()

		var stored []string
		for i, ref := range batch {
			n, err := b.persist(ctx, ref, results[i])
			if err != nil {
				return err
			}
			if n > 0 {
				stored = append(stored, ref.ID)
			}
		}
		if err := b.save(ctx); err != nil {
			return err
		}
		for _, id := range stored {
			o.cache.MarkAnalyzed(id)
		}

		b.processed += len(batch)
		b.progress(Progress{Phase: phase, Processed: b.processed, Total: b.total, Matched: b.matched})
	}
	return ctx.Err()
}

// persist stores the faces of one freshly extracted image and returns how
// many were stored. If another writer stored faces for the image first, the
// stored faces are matched instead.
func (b *batcher) persist(ctx context.Context, ref library.ImageRef, faces []extractor.Face) (int, error) {
	if len(faces) == 0 {
		return 0, nil
	}
	o := b.s.o

	best := -1
	alreadyOwned, err := b.ownsImage(ctx, ref.ID)
	if err != nil {
		return 0, err
	}
	if !alreadyOwned {
		bestScore := 0.0
		for i := range faces {
			if score, ok := o.matcher.BestMatch(faces[i].Vector, b.refs); ok && (best < 0 || score > bestScore) {
				best, bestScore = i, score
			}
		}
	}

	date := ref.CreatedAt
	stored, duplicate := 0, false
	for i, f := range faces {
		rec := o.newRecord(ref.ID, deref(date), i, f)
		if i == best {
			rec.OwnerID = b.s.personID
		}
		err := b.session.Insert(ctx, rec)
		if errors.Is(err, database.ErrDuplicateFace) {
			duplicate = true
			continue
		}
		if err != nil {
			return stored, fmt.Errorf("%w: store face of %s: %w", ErrStoreUnavailable, ref.ID, err)
		}
		stored++
		if i == best {
			b.attributed(ref.ID)
		}
	}

	if duplicate && !alreadyOwned && !b.isOwned(ref.ID) {
		if _, err := b.matchStored(ctx, ref.ID, nil); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

// matchOnly attributes already stored, unassigned faces without extracting.
func (b *batcher) matchOnly(ctx context.Context, images []library.ImageRef) error {
	for batch := range slices.Chunk(images, b.s.o.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids := make([]string, len(batch))
		for i, ref := range batch {
			ids[i] = ref.ID
		}
		recs, err := b.session.Fetch(ctx, database.Filter{ImageIDs: ids, Unassigned: true}, 0)
		if err != nil {
			return fmt.Errorf("%w: fetch stored faces: %w", ErrStoreUnavailable, err)
		}
		byImage := make(map[string][]database.EmbeddingRecord)
		for _, rec := range recs {
			byImage[rec.ImageID] = append(byImage[rec.ImageID], rec)
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			if _, err := b.matchStored(ctx, id, byImage[id]); err != nil {
				return err
			}
		}
		if err := b.save(ctx); err != nil {
			return err
		}

		b.processed += len(batch)
		b.progress(Progress{Phase: PhaseMatch, Processed: b.processed, Total: b.total, Matched: b.matched})
	}
	return ctx.Err()
}

// matchStored attributes the best matching unassigned face of an image to
// the person. recs are the image's unassigned faces; nil fetches them.
func (b *batcher) matchStored(ctx context.Context, imageID string, recs []database.EmbeddingRecord) (bool, error) {
	if recs == nil {
		var err error
		recs, err = b.session.Fetch(ctx, database.Filter{ImageID: imageID, Unassigned: true}, 0)
		if err != nil {
			return false, fmt.Errorf("%w: fetch faces of %s: %w", ErrStoreUnavailable, imageID, err)
		}
	}

	best, bestScore := -1, 0.0
	for i := range recs {
		if score, ok := b.s.o.matcher.BestMatch(recs[i].Vector, b.refs); ok && (best < 0 || score > bestScore) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return false, nil
	}

	owned, err := b.ownsImage(ctx, imageID)
	if err != nil || owned {
		return false, err
	}
	if err := b.session.UpdateOwner(ctx, recs[best].ID, b.s.personID, false, false); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Printf("search: face %s vanished before it could be attributed", recs[best].ID)
			return false, nil
		}
		return false, fmt.Errorf("%w: attribute face %s: %w", ErrStoreUnavailable, recs[best].ID, err)
	}
	b.attributed(imageID)
	return true, nil
}

// ownsImage re-checks at write time whether the person already has a face
// in the image.
func (b *batcher) ownsImage(ctx context.Context, imageID string) (bool, error) {
	if b.isOwned(imageID) {
		return true, nil
	}
	owned, err := database.OwnerHasImage(ctx, b.session, b.s.personID, imageID)
	if err != nil {
		return false, fmt.Errorf("%w: check owner of %s: %w", ErrStoreUnavailable, imageID, err)
	}
	return owned, nil
}

func (b *batcher) isOwned(imageID string) bool {
	_, ok := b.owned[imageID]
	return ok
}

func (b *batcher) attributed(imageID string) {
	if b.owned == nil {
		b.owned = make(map[string]struct{})
	}
	b.owned[imageID] = struct{}{}
	b.matched++
}

func (b *batcher) save(ctx context.Context) error {
	if err := b.session.Save(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}
