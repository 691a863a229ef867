package database

import (
	"bytes"
	"cmp"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// HNSWIndex wraps the HNSW graph for face embedding search, keyed by record id.
type HNSWIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string] // For persistence
	idToRecord map[string]*EmbeddingRecord
	dim        int
	mu         sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToRecord: make(map[string]*EmbeddingRecord),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromRecords builds the index from a slice of records. Records whose
// vector dimension differs from the first indexed one are skipped.
func (h *HNSWIndex) BuildFromRecords(records []EmbeddingRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.savedGraph = nil
	h.dim = 0
	h.idToRecord = make(map[string]*EmbeddingRecord, len(records))

	for i := range records {
		h.addLocked(&records[i])
	}
}

func (h *HNSWIndex) addLocked(rec *EmbeddingRecord) {
	if len(rec.Vector) == 0 {
		return
	}
	if h.dim == 0 {
		h.dim = len(rec.Vector)
	}
	if len(rec.Vector) != h.dim {
		return
	}
	if h.graph == nil {
		if h.savedGraph != nil {
			h.graph = h.savedGraph.Graph
		} else {
			h.graph = newGraph()
		}
	}
	h.graph.Add(hnsw.MakeNode(rec.ID, rec.Vector))
	h.idToRecord[rec.ID] = rec
}

// Add adds a single record to the index.
func (h *HNSWIndex) Add(rec EmbeddingRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(&rec)
}

// Search finds the k nearest neighbors to the query vector.
// Returns record ids and their cosine distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]string, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g := h.graph
	if g == nil && h.savedGraph != nil {
		g = h.savedGraph.Graph
	}
	if g == nil {
		return nil, nil, errors.New("index not initialized")
	}
	if len(query) != h.dim {
		return nil, nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), h.dim)
	}

	type hit struct {
		id       string
		distance float64
	}
	neighbors := g.Search(query, k)
	hits := make([]hit, 0, len(neighbors))
	for _, n := range neighbors {
		// Deleted records stay in the graph; skip them here.
		if _, ok := h.idToRecord[n.Key]; !ok {
			continue
		}
		hits = append(hits, hit{id: n.Key, distance: facematch.CosineDistance(query, n.Value)})
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(a.distance, b.distance) })

	ids := make([]string, len(hits))
	distances := make([]float64, len(hits))
	for i, hh := range hits {
		ids[i] = hh.id
		distances[i] = hh.distance
	}
	return ids, distances, nil
}

// Get returns the record for a given id.
func (h *HNSWIndex) Get(id string) *EmbeddingRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToRecord[id]
}

// UpdateOwner keeps cached ownership in sync with the store.
func (h *HNSWIndex) UpdateOwner(id, ownerID string, verified bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.idToRecord[id]
	if !ok {
		return false
	}
	rec.OwnerID = ownerID
	rec.IsVerified = verified
	return true
}

// Delete removes a record from search results.
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.idToRecord, id)
}

// Apply brings the index up to date with a committed change. It reports
// false for a Reset, which leaves the index to be rebuilt.
func (h *HNSWIndex) Apply(c Change) bool {
	if c.Reset {
		return false
	}
	for i := range c.Inserted {
		h.Add(c.Inserted[i])
	}
	for _, o := range c.Owners {
		h.UpdateOwner(o.ID, o.OwnerID, o.Verified)
	}
	for _, id := range c.Deleted {
		h.Delete(id)
	}
	return true
}

// Count returns the number of indexed records.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToRecord)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// Save persists the graph to path and the record metadata to path.records.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g := h.graph
	if g == nil && h.savedGraph != nil {
		g = h.savedGraph.Graph
	}
	if g == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".records")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := g.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	records := make([]EmbeddingRecord, 0, len(h.idToRecord))
	for _, rec := range h.idToRecord {
		records = append(records, *rec)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := os.WriteFile(path+".records", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}
	return nil
}

// Load replaces the index with the graph and records saved at path.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".records") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []EmbeddingRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}

	h.graph = nil
	h.savedGraph = saved
	h.dim = 0
	h.idToRecord = make(map[string]*EmbeddingRecord, len(records))
	for i := range records {
		if h.dim == 0 {
			h.dim = len(records[i].Vector)
		}
		h.idToRecord[records[i].ID] = &records[i]
	}
	return nil
}
