// Package sqlite is a single-file database.Store built on GORM, used when no
// PostgreSQL URL is configured.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kozaktomas/face-matcher/internal/database"
)

// Store is the SQLite-backed database.Store.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the database file at path and migrates the schema.
func Open(path string) (*Store, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&embeddingModel{}, &personModel{}, &clusterModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyFilter(q *gorm.DB, f database.Filter) *gorm.DB {
	if f.ImageID != "" {
		q = q.Where("image_id = ?", f.ImageID)
	}
	if len(f.ImageIDs) > 0 {
		q = q.Where("image_id IN ?", f.ImageIDs)
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.Unassigned {
		q = q.Where("owner_id IS NULL")
	}
	if f.VerifiedOnly {
		q = q.Where("is_verified = ?", true)
	}
	if f.ExcludeImagePrefix != "" {
		// LIKE is case-insensitive in SQLite, compare the prefix exactly instead.
		q = q.Where("substr(image_id, 1, ?) <> ?", len(f.ExcludeImagePrefix), f.ExcludeImagePrefix)
	}
	return q
}

func fetchRecords(ctx context.Context, db *gorm.DB, f database.Filter, limit int) ([]database.EmbeddingRecord, error) {
	q := applyFilter(db.WithContext(ctx).Model(&embeddingModel{}), f).Order("image_id").Order("face_index")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []embeddingModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	records := make([]database.EmbeddingRecord, len(models))
	for i := range models {
		records[i] = models[i].toRecord()
	}
	return records, nil
}

func countRecords(ctx context.Context, db *gorm.DB, f database.Filter) (int, error) {
	var n int64
	if err := applyFilter(db.WithContext(ctx).Model(&embeddingModel{}), f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return int(n), nil
}

func getRecord(ctx context.Context, db *gorm.DB, id string) (*database.EmbeddingRecord, error) {
	var m embeddingModel
	err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	rec := m.toRecord()
	return &rec, nil
}

func imageIDs(ctx context.Context, db *gorm.DB, f database.Filter, limit int) ([]string, error) {
	q := applyFilter(db.WithContext(ctx).Model(&embeddingModel{}), f).Distinct("image_id").Order("image_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("image_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("query image ids: %w", err)
	}
	return ids, nil
}

func getCluster(ctx context.Context, db *gorm.DB, ownerID string) (*database.PersonCluster, error) {
	var m clusterModel
	err := db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cluster: %w", err)
	}
	return &database.PersonCluster{
		OwnerID:   m.OwnerID,
		Centroid:  decodeFloat32s(m.Centroid),
		Count:     m.EmbeddingCount,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (s *Store) Fetch(ctx context.Context, f database.Filter, limit int) ([]database.EmbeddingRecord, error) {
	return fetchRecords(ctx, s.db, f, limit)
}

func (s *Store) Count(ctx context.Context, f database.Filter) (int, error) {
	return countRecords(ctx, s.db, f)
}

func (s *Store) Get(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	return getRecord(ctx, s.db, id)
}

func (s *Store) ImageIDs(ctx context.Context, f database.Filter, limit int) ([]string, error) {
	return imageIDs(ctx, s.db, f, limit)
}

func (s *Store) GetCluster(ctx context.Context, ownerID string) (*database.PersonCluster, error) {
	return getCluster(ctx, s.db, ownerID)
}

// GetPerson returns nil if the person does not exist.
func (s *Store) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	var m personModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query person: %w", err)
	}
	p := m.toPerson()
	return &p, nil
}

// ListPeople returns all people ordered by name. Primary photo bytes are not loaded.
func (s *Store) ListPeople(ctx context.Context) ([]database.Person, error) {
	var models []personModel
	err := s.db.WithContext(ctx).
		Select("id", "name", "primary_image_id", "primary_image_date", "created_at").
		Order("name").Order("id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	people := make([]database.Person, len(models))
	for i := range models {
		people[i] = models[i].toPerson()
	}
	return people, nil
}

func (s *Store) SavePerson(ctx context.Context, p *database.Person) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m := personModel{
		ID:               p.ID,
		Name:             p.Name,
		PrimaryImageID:   p.PrimaryImageID,
		PrimaryImageDate: optionalTime(p.PrimaryImageDate),
		PrimaryPhoto:     p.PrimaryPhoto,
		CreatedAt:        p.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("save person: %w", err)
	}
	return nil
}

func (s *Store) DeletePerson(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&personModel{}).Error; err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return nil
}

// NewSession opens a unit of work. The transaction is started on the first
// write and committed by Save.
func (s *Store) NewSession(ctx context.Context) (database.Session, error) {
	return &Session{db: s.db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Session stages writes in a GORM transaction that Save commits.
type Session struct {
	db *gorm.DB
	tx *gorm.DB
}

func (s *Session) reader() *gorm.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Session) writer(ctx context.Context) (*gorm.DB, error) {
	if s.tx == nil {
		tx := s.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, fmt.Errorf("beginning transaction: %w", tx.Error)
		}
		s.tx = tx
	}
	return s.tx.WithContext(ctx), nil
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

func (s *Session) GetCluster(ctx context.Context, ownerID string) (*database.PersonCluster, error) {
	return getCluster(ctx, s.reader(), ownerID)
}

func (s *Session) Insert(ctx context.Context, rec *database.EmbeddingRecord) error {
	tx, err := s.writer(ctx)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m := toEmbeddingModel(rec)
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return fmt.Errorf("insert embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%d: %w", rec.ImageID, rec.FaceIndex, database.ErrDuplicateFace)
	}
	return nil
}

func (s *Session) UpdateOwner(ctx context.Context, id, ownerID string, verified, representative bool) error {
	tx, err := s.writer(ctx)
	if err != nil {
		return err
	}
	res := tx.Model(&embeddingModel{}).Where("id = ?", id).Updates(map[string]any{
		"owner_id":          optionalString(ownerID),
		"is_verified":       verified,
		"is_representative": representative,
	})
	if res.Error != nil {
		return fmt.Errorf("update embedding owner: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("embedding %s: %w", id, database.ErrNotFound)
	}
	return nil
}

func (s *Session) Delete(ctx context.Context, f database.Filter) (int, error) {
	tx, err := s.writer(ctx)
	if err != nil {
		return 0, err
	}
	res := applyFilter(tx.Session(&gorm.Session{AllowGlobalUpdate: true}), f).Delete(&embeddingModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete embeddings: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Session) SaveCluster(ctx context.Context, c *database.PersonCluster) error {
	tx, err := s.writer(ctx)
	if err != nil {
		return err
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	m := clusterModel{
		OwnerID:        c.OwnerID,
		Centroid:       encodeFloat32s(c.Centroid),
		EmbeddingCount: c.Count,
		UpdatedAt:      c.UpdatedAt,
	}
	if err := tx.Save(&m).Error; err != nil {
		return fmt.Errorf("save cluster: %w", err)
	}
	return nil
}

func (s *Session) DeleteCluster(ctx context.Context, ownerID string) error {
	tx, err := s.writer(ctx)
	if err != nil {
		return err
	}
	if err := tx.Where("owner_id = ?", ownerID).Delete(&clusterModel{}).Error; err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	return nil
}

func (s *Session) DeleteAllClusters(ctx context.Context) error {
	tx, err := s.writer(ctx)
	if err != nil {
		return err
	}
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&clusterModel{}).Error; err != nil {
		return fmt.Errorf("delete clusters: %w", err)
	}
	return nil
}

// Save commits staged writes. Later writes start a new transaction.
func (s *Session) Save(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit().Error; err != nil {
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
	if err := tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback session: %w", err)
	}
	return nil
}

var (
	_ database.Store   = (*Store)(nil)
	_ database.Session = (*Session)(nil)
)
