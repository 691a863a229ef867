package database

import "context"

// Change lists the face mutations of one committed Save.
type Change struct {
	Inserted []EmbeddingRecord
	Owners   []OwnerChange
	Deleted  []string
	// Reset means every stored face was deleted.
	Reset bool
}

type OwnerChange struct {
	ID       string
	OwnerID  string
	Verified bool
}

func (c *Change) empty() bool {
	return len(c.Inserted) == 0 && len(c.Owners) == 0 && len(c.Deleted) == 0 && !c.Reset
}

// Observe wraps store so that fn receives the face changes of every session
// Save. Writes discarded by Close are never reported. fn runs on the
// goroutine calling Save.
func Observe(store Store, fn func(Change)) Store {
	return &observedStore{Store: store, fn: fn}
}

type observedStore struct {
	Store
	fn func(Change)
}

func (s *observedStore) NewSession(ctx context.Context) (Session, error) {
	inner, err := s.Store.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return &observedSession{Session: inner, fn: s.fn}, nil
}

type observedSession struct {
	Session
	fn      func(Change)
	pending Change
}

func (s *observedSession) Insert(ctx context.Context, rec *EmbeddingRecord) error {
	if err := s.Session.Insert(ctx, rec); err != nil {
		return err
	}
	s.pending.Inserted = append(s.pending.Inserted, *rec)
	return nil
}

func (s *observedSession) UpdateOwner(ctx context.Context, id, ownerID string, verified, representative bool) error {
	if err := s.Session.UpdateOwner(ctx, id, ownerID, verified, representative); err != nil {
		return err
	}
	s.pending.Owners = append(s.pending.Owners, OwnerChange{ID: id, OwnerID: ownerID, Verified: verified})
	return nil
}

func (s *observedSession) Delete(ctx context.Context, f Filter) (int, error) {
	if f.isEmpty() {
		n, err := s.Session.Delete(ctx, f)
		if err == nil {
			s.pending = Change{Reset: true}
		}
		return n, err
	}

	doomed, err := s.Session.Fetch(ctx, f, 0)
	if err != nil {
		return 0, err
	}
	n, err := s.Session.Delete(ctx, f)
	if err != nil {
		return n, err
	}
	for i := range doomed {
		s.pending.Deleted = append(s.pending.Deleted, doomed[i].ID)
	}
	return n, nil
}

func (s *observedSession) Save(ctx context.Context) error {
	if err := s.Session.Save(ctx); err != nil {
		return err
	}
	if !s.pending.empty() {
		c := s.pending
		s.pending = Change{}
		s.fn(c)
	}
	return nil
}

func (s *observedSession) Close() error {
	s.pending = Change{}
	return s.Session.Close()
}
