// Package engine is the public surface of the face matcher. It wires the
// extractor, store, cache and search orchestrator together and adds the
// face lifecycle operations around them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/extractor"
	"github.com/kozaktomas/face-matcher/internal/facecache"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/library"
	"github.com/kozaktomas/face-matcher/internal/search"
)

var (
	// ErrPersonExists is returned when adding a person whose name is taken.
	ErrPersonExists = errors.New("person already exists")
	// ErrFaceNotFound is returned for unknown embedding record ids.
	ErrFaceNotFound = errors.New("face not found")
)

type Options struct {
	ObservationThreshold float64
	CosineThreshold      float64
	ExploratoryThreshold float64
	ExploratoryTopK      int
	Origin               facematch.Origin
	ScanCap              int
	Search               search.Options
	HNSWIndexPath        string // empty keeps the similarity index in memory only
}

func DefaultOptions() Options {
	return Options{
		ObservationThreshold: constants.DefaultObservationThreshold,
		CosineThreshold:      constants.DefaultCosineThreshold,
		ExploratoryThreshold: constants.DefaultExploratoryThreshold,
		ExploratoryTopK:      constants.DefaultExploratoryTopK,
		Origin:               facematch.OriginBottomLeft,
		ScanCap:              constants.DefaultScanCap,
		Search:               search.DefaultOptions(),
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	store     database.Store
	source    library.Source
	extractor *extractor.Extractor
	matcher   *facematch.Matcher
	cache     *facecache.Cache
	searches  *search.Orchestrator
	opts      Options

	indexMu sync.Mutex
	index   *database.HNSWIndex
	// the saved index predates changes made by this process
	indexFileStale bool
}

func New(store database.Store, source library.Source, ext *extractor.Extractor, opts Options) *Engine {
	e := &Engine{
		source:    source,
		extractor: ext,
		matcher:   facematch.NewMatcher(ext, opts.ObservationThreshold, opts.CosineThreshold),
		opts:      opts,
	}
	// every committed write, searches included, reaches the similarity index
	e.store = database.Observe(store, e.applyChange)
	e.cache = facecache.New(e.store, opts.ScanCap, opts.Origin)
	e.searches = search.New(e.store, source, ext, e.matcher, e.cache, opts.Search)
	return e
}

func (e *Engine) applyChange(c database.Change) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if e.index == nil {
		e.indexFileStale = true
		return
	}
	if !e.index.Apply(c) {
		e.index = nil
		e.indexFileStale = true
	}
}

// Store exposes the underlying store.
func (e *Engine) Store() database.Store {
	return e.store
}

// Matcher exposes the dual-threshold matcher.
func (e *Engine) Matcher() *facematch.Matcher {
	return e.matcher
}

// StartSearch runs a search for the person and returns the number of faces
// attributed before it returned.
func (e *Engine) StartSearch(ctx context.Context, personID string, progress search.ProgressFunc) (int, error) {
	return e.searches.StartSearch(ctx, personID, progress)
}

// BeginSearch admits a search without running it, so callers can report
// ErrAlreadyInProgress synchronously and run the search elsewhere.
func (e *Engine) BeginSearch(personID string) (*search.Search, error) {
	return e.searches.Begin(personID)
}

// SearchInProgress reports whether a search for the person is running.
func (e *Engine) SearchInProgress(personID string) bool {
	return e.searches.InProgress(personID)
}

// IsAnalyzed reports whether faces of a library image are stored.
func (e *Engine) IsAnalyzed(ctx context.Context, imageID string) (bool, error) {
	return e.cache.HasStoredFaces(ctx, imageID)
}

// StoredFacesForImage returns the image's faces in reading order.
func (e *Engine) StoredFacesForImage(ctx context.Context, imageID string) ([]database.EmbeddingRecord, error) {
	return e.cache.StoredDetections(ctx, imageID)
}

// SimilarEmbeddings ranks candidates by cosine similarity to query. Zero
// threshold or topK use the configured exploratory defaults.
func (e *Engine) SimilarEmbeddings(query facematch.Candidate, candidates []facematch.Candidate, threshold float64, topK int) []facematch.ScoredCandidate {
	threshold, topK = e.exploratory(threshold, topK)
	return facematch.FindSimilar(query, candidates, threshold, topK)
}

// Centroid returns the normalized mean of vectors, nil for none.
func (e *Engine) Centroid(vectors [][]float32) []float32 {
	return facematch.Centroid(vectors)
}

// Wait blocks until background search continuations finished.
func (e *Engine) Wait() {
	e.searches.Wait()
}

// Close stops background work and persists the similarity index.
func (e *Engine) Close() error {
	e.searches.Close()

	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if e.index == nil || e.opts.HNSWIndexPath == "" {
		return nil
	}
	if err := e.index.Save(e.opts.HNSWIndexPath); err != nil {
		return fmt.Errorf("save similarity index: %w", err)
	}
	return nil
}

func (e *Engine) exploratory(threshold float64, topK int) (float64, int) {
	if threshold <= 0 {
		threshold = e.opts.ExploratoryThreshold
	}
	if topK <= 0 {
		topK = e.opts.ExploratoryTopK
	}
	return threshold, topK
}

// loadIndexLocked restores a saved index when one exists.
func (e *Engine) loadIndexLocked() {
	if e.index != nil || e.opts.HNSWIndexPath == "" || e.indexFileStale {
		return
	}
	if _, err := os.Stat(e.opts.HNSWIndexPath); err != nil {
		return
	}
	idx := database.NewHNSWIndex()
	if err := idx.Load(e.opts.HNSWIndexPath); err != nil {
		log.Printf("engine: load similarity index: %v", err)
		return
	}
	e.index = idx
}
