// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-matcher/internal/database"
)

// MockStore is an in-memory database.Store. Session writes are applied
// immediately; Save only records the call so tests can count commits.
type MockStore struct {
	mu       sync.RWMutex
	records  map[string]*database.EmbeddingRecord
	people   map[string]*database.Person
	clusters map[string]*database.PersonCluster
	saves    int

	// Error injection
	FetchError      error
	CountError      error
	InsertError     error
	UpdateError     error
	SaveError       error
	NewSessionError error
	GetPersonError  error
}

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		records:  make(map[string]*database.EmbeddingRecord),
		people:   make(map[string]*database.Person),
		clusters: make(map[string]*database.PersonCluster),
	}
}

// AddRecord stores a record directly, bypassing uniqueness checks
func (m *MockStore) AddRecord(rec database.EmbeddingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records[rec.ID] = &rec
}

// AddPerson stores a person directly
func (m *MockStore) AddPerson(p database.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[p.ID] = &p
}

// Records returns a copy of every stored record ordered by image id and face index
func (m *MockStore) Records() []database.EmbeddingRecord {
	recs, _ := m.Fetch(context.Background(), database.Filter{}, 0)
	return recs
}

// SaveCount returns how many times a session was saved
func (m *MockStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MockStore) Fetch(ctx context.Context, f database.Filter, limit int) ([]database.EmbeddingRecord, error) {
	if m.FetchError != nil {
		return nil, m.FetchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchLocked(f, limit), nil
}

func (m *MockStore) fetchLocked(f database.Filter, limit int) []database.EmbeddingRecord {
	var out []database.EmbeddingRecord
	for _, rec := range m.records {
		if f.Matches(rec) {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b database.EmbeddingRecord) int {
		if c := cmp.Compare(a.ImageID, b.ImageID); c != 0 {
			return c
		}
		return cmp.Compare(a.FaceIndex, b.FaceIndex)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MockStore) Count(ctx context.Context, f database.Filter) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if f.Matches(rec) {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Get(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	if m.FetchError != nil {
		return nil, m.FetchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (m *MockStore) ImageIDs(ctx context.Context, f database.Filter, limit int) ([]string, error) {
	if m.FetchError != nil {
		return nil, m.FetchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, rec := range m.fetchLocked(f, 0) {
		if len(ids) > 0 && ids[len(ids)-1] == rec.ImageID {
			continue
		}
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, rec.ImageID)
	}
	return ids, nil
}

func (m *MockStore) Insert(ctx context.Context, rec *database.EmbeddingRecord) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.ImageID == rec.ImageID && existing.FaceIndex == rec.FaceIndex {
			return fmt.Errorf("%s/%d: %w", rec.ImageID, rec.FaceIndex, database.ErrDuplicateFace)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	stored := *rec
	m.records[rec.ID] = &stored
	return nil
}

func (m *MockStore) UpdateOwner(ctx context.Context, id, ownerID string, verified, representative bool) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("embedding %s: %w", id, database.ErrNotFound)
	}
	rec.OwnerID = ownerID
	rec.IsVerified = verified
	rec.IsRepresentative = representative
	return nil
}

func (m *MockStore) Delete(ctx context.Context, f database.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		if f.Matches(rec) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) GetCluster(ctx context.Context, ownerID string) (*database.PersonCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[ownerID]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (m *MockStore) SaveCluster(ctx context.Context, c *database.PersonCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	m.clusters[c.OwnerID] = &stored
	return nil
}

func (m *MockStore) DeleteCluster(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clusters, ownerID)
	return nil
}

func (m *MockStore) DeleteAllClusters(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters = make(map[string]*database.PersonCluster)
	return nil
}

func (m *MockStore) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	if m.GetPersonError != nil {
		return nil, m.GetPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (m *MockStore) ListPeople(ctx context.Context) ([]database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Person, 0, len(m.people))
	for _, p := range m.people {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b database.Person) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MockStore) SavePerson(ctx context.Context, p *database.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	stored := *p
	m.people[p.ID] = &stored
	return nil
}

func (m *MockStore) DeletePerson(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.people, id)
	return nil
}

// NewSession returns a session writing straight into the store
func (m *MockStore) NewSession(ctx context.Context) (database.Session, error) {
	if m.NewSessionError != nil {
		return nil, m.NewSessionError
	}
	return &mockSession{MockStore: m}, nil
}

func (m *MockStore) Close() error {
	return nil
}

type mockSession struct {
	*MockStore
}

func (s *mockSession) Save(ctx context.Context) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *mockSession) Close() error {
	return nil
}

var (
	_ database.Store   = (*MockStore)(nil)
	_ database.Session = (*mockSession)(nil)
)
