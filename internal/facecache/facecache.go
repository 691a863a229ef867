// Package facecache decides whether a library image was already analyzed.
// Every caller that might trigger extraction goes through it so that all of
// them agree on what "analyzed" means.
package facecache

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// Cache answers "analyzed" queries from the store, remembering positive
// answers. Manual photos are never considered analyzed.
type Cache struct {
	reader  database.EmbeddingReader
	scanCap int
	origin  facematch.Origin
	memo    *memo
}

type memo struct {
	mu       sync.RWMutex
	analyzed map[string]struct{}
}

// New creates a cache over reader. scanCap bounds ImageIDsWithStoredFaces;
// origin is the convention of the stored boxes.
func New(reader database.EmbeddingReader, scanCap int, origin facematch.Origin) *Cache {
	if scanCap <= 0 {
		scanCap = constants.DefaultScanCap
	}
	return &Cache{
		reader:  reader,
		scanCap: scanCap,
		origin:  origin,
		memo:    &memo{analyzed: make(map[string]struct{})},
	}
}

// In returns a cache reading through r, typically a session, that shares
// this cache's memory.
func (c *Cache) In(r database.EmbeddingReader) *Cache {
	return &Cache{reader: r, scanCap: c.scanCap, origin: c.origin, memo: c.memo}
}

// HasStoredFaces reports whether at least one face is stored for the image.
func (c *Cache) HasStoredFaces(ctx context.Context, imageID string) (bool, error) {
	if database.IsManualImage(imageID) {
		return false, nil
	}
	if c.memo.has(imageID) {
		return true, nil
	}
	ok, err := database.HasImage(ctx, c.reader, imageID)
	if err != nil {
		return false, fmt.Errorf("count faces of %s: %w", imageID, err)
	}
	if ok {
		c.MarkAnalyzed(imageID)
	}
	return ok, nil
}

// StoredDetections returns the image's faces in reading order: top of the
// frame first, then left to right. Ties fall back to the record id so the
// order never changes between calls.
func (c *Cache) StoredDetections(ctx context.Context, imageID string) ([]database.EmbeddingRecord, error) {
	recs, err := database.FetchByImage(ctx, c.reader, imageID)
	if err != nil {
		return nil, fmt.Errorf("fetch faces of %s: %w", imageID, err)
	}
	slices.SortStableFunc(recs, func(a, b database.EmbeddingRecord) int {
		if r := facematch.CompareScreenPosition(a.Box(), b.Box(), c.origin); r != 0 {
			return r
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return recs, nil
}

// ImageIDsWithStoredFaces returns the images among scope (all images when
// scope is nil) that have stored faces. At most scanCap ids are collected;
// truncated reports whether the cap was hit, in which case the set is
// incomplete and callers may redo work for the missing images.
func (c *Cache) ImageIDsWithStoredFaces(ctx context.Context, scope []string) (ids map[string]struct{}, truncated bool, err error) {
	ids = make(map[string]struct{})
	filter := database.Filter{ExcludeImagePrefix: constants.ManualImagePrefix}

	if scope == nil {
		found, err := c.reader.ImageIDs(ctx, filter, c.scanCap+1)
		if err != nil {
			return nil, false, fmt.Errorf("list analyzed images: %w", err)
		}
		if len(found) > c.scanCap {
			found, truncated = found[:c.scanCap], true
		}
		c.collect(ids, found)
		return ids, truncated, nil
	}

	for chunk := range slices.Chunk(scope, database.ImageIDChunk) {
		remaining := c.scanCap - len(ids)
		if remaining <= 0 {
			return ids, true, nil
		}
		filter.ImageIDs = chunk
		found, err := c.reader.ImageIDs(ctx, filter, remaining+1)
		if err != nil {
			return nil, false, fmt.Errorf("list analyzed images: %w", err)
		}
		if len(found) > remaining {
			c.collect(ids, found[:remaining])
			return ids, true, nil
		}
		c.collect(ids, found)
	}
	return ids, false, nil
}

// MarkAnalyzed records that faces of the image were committed.
func (c *Cache) MarkAnalyzed(imageID string) {
	if database.IsManualImage(imageID) {
		return
	}
	c.memo.mu.Lock()
	c.memo.analyzed[imageID] = struct{}{}
	c.memo.mu.Unlock()
}

// Forget drops remembered answers after faces were deleted. Without ids
// everything is forgotten.
func (c *Cache) Forget(imageIDs ...string) {
	c.memo.mu.Lock()
	defer c.memo.mu.Unlock()
	if len(imageIDs) == 0 {
		clear(c.memo.analyzed)
		return
	}
	for _, id := range imageIDs {
		delete(c.memo.analyzed, id)
	}
}

func (c *Cache) collect(ids map[string]struct{}, found []string) {
	for _, id := range found {
		ids[id] = struct{}{}
		c.MarkAnalyzed(id)
	}
}

func (m *memo) has(imageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.analyzed[imageID]
	return ok
}
