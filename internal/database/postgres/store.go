package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-matcher/internal/database"
)

// Store is the PostgreSQL-backed database.Store.
type Store struct {
	pool *Pool
}

// NewStore wraps an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Fetch(ctx context.Context, f database.Filter, limit int) ([]database.EmbeddingRecord, error) {
	return fetchRecords(ctx, s.pool.db, f, limit)
}

func (s *Store) Count(ctx context.Context, f database.Filter) (int, error) {
	return countRecords(ctx, s.pool.db, f)
}

func (s *Store) Get(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	return getRecord(ctx, s.pool.db, id)
}

func (s *Store) ImageIDs(ctx context.Context, f database.Filter, limit int) ([]string, error) {
	return imageIDs(ctx, s.pool.db, f, limit)
}

func (s *Store) GetCluster(ctx context.Context, ownerID string) (*database.PersonCluster, error) {
	return getCluster(ctx, s.pool.db, ownerID)
}

// NewSession opens a unit of work. The transaction is started on the first
// write and committed by Save.
func (s *Store) NewSession(ctx context.Context) (database.Session, error) {
	return &Session{pool: s.pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// Session stages writes in a transaction that Save commits.
type Session struct {
	pool *Pool
	tx   *sql.Tx
}

// reader returns the open transaction so reads see staged writes.
func (s *Session) reader() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool.db
}

func (s *Session) writer(ctx context.Context) (querier, error) {
	if s.tx == nil {
		tx, err := s.pool.begin(ctx)
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *Session) Fetch(ctx context.Context, f database.Filter, limit int) ([]database.EmbeddingRecord, error) {
	return fetchRecords(ctx, s.reader(), f, limit)
}

func (s *Session) Count(ctx context.Context, f database.Filter) (int, error) {
	return countRecords(ctx, s.reader(), f)
}

func (s *Session) Get(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	return getRecord(ctx, s.reader(), id)
}

func (s *Session) ImageIDs(ctx context.Context, f database.Filter, limit int) ([]string, error) {
	return imageIDs(ctx, s.reader(), f, limit)
}

// Insert relies on ON CONFLICT so a duplicate does not abort the surrounding transaction.
func (s *Session) Insert(ctx context.Context, rec *database.EmbeddingRecord) error {
	q, err := s.writer(ctx)
	if err != nil {
		return err
	}
	return insertRecord(ctx, q, rec)
}

func (s *Session) UpdateOwner(ctx context.Context, id, ownerID string, verified, representative bool) error {
	q, err := s.writer(ctx)
	if err != nil {
		return err
	}
	return updateOwner(ctx, q, id, ownerID, verified, representative)
}

func (s *Session) Delete(ctx context.Context, f database.Filter) (int, error) {
	q, err := s.writer(ctx)
	if err != nil {
		return 0, err
	}
	return deleteRecords(ctx, q, f)
}

func (s *Session) GetCluster(ctx context.Context, ownerID string) (*database.PersonCluster, error) {
	return getCluster(ctx, s.reader(), ownerID)
}

func (s *Session) SaveCluster(ctx context.Context, c *database.PersonCluster) error {
	q, err := s.writer(ctx)
	if err != nil {
		return err
	}
	return saveCluster(ctx, q, c)
}

func (s *Session) DeleteCluster(ctx context.Context, ownerID string) error {
	q, err := s.writer(ctx)
	if err != nil {
		return err
	}
	return deleteCluster(ctx, q, ownerID)
}

func (s *Session) DeleteAllClusters(ctx context.Context) error {
	q, err := s.writer(ctx)
	if err != nil {
		return err
	}
	return deleteAllClusters(ctx, q)
}

// Save commits staged writes. Later writes start a new transaction.
func (s *Session) Save(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Close rolls back anything not yet saved.
func (s *Session) Close() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback session: %w", err)
	}
	return nil
}

var (
	_ database.Store   = (*Store)(nil)
	_ database.Session = (*Session)(nil)
)
