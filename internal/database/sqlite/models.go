package sqlite

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
)

type embeddingModel struct {
	ID               string     `gorm:"primaryKey"`
	ImageID          string     `gorm:"not null;uniqueIndex:idx_embeddings_image_face"`
	FaceIndex        int        `gorm:"not null;uniqueIndex:idx_embeddings_image_face"`
	OwnerID          *string    `gorm:"index"`
	Embedding        []byte     `gorm:"not null"`             // little-endian float32
	BBox             []byte     `gorm:"column:bbox;not null"` // little-endian float64
	Confidence       float64    `gorm:"not null;default:0"`
	QualityScore     *float64   `gorm:"column:quality_score"`
	Yaw              float64    `gorm:"not null;default:0"`
	Pitch            float64    `gorm:"not null;default:0"`
	Roll             float64    `gorm:"not null;default:0"`
	ImageDate        *time.Time `gorm:"column:image_date"`
	IsVerified       bool       `gorm:"not null;default:false"`
	IsRepresentative bool       `gorm:"not null;default:false"`
	Thumbnail        []byte     `gorm:"column:thumbnail"`
	Model            string     `gorm:"column:model"`
	CreatedAt        time.Time  `gorm:"not null"`
}

func (embeddingModel) TableName() string {
	return "embeddings"
}

type personModel struct {
	ID               string `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	PrimaryImageID   string
	PrimaryImageDate *time.Time
	PrimaryPhoto     []byte
	CreatedAt        time.Time `gorm:"not null"`
}

func (personModel) TableName() string {
	return "people"
}

type clusterModel struct {
	OwnerID        string    `gorm:"primaryKey"`
	Centroid       []byte    `gorm:"not null"`
	EmbeddingCount int       `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (clusterModel) TableName() string {
	return "person_clusters"
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func encodeFloat64s(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeFloat64s(b []byte) []float64 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toEmbeddingModel(r *database.EmbeddingRecord) embeddingModel {
	return embeddingModel{
		ID:               r.ID,
		ImageID:          r.ImageID,
		FaceIndex:        r.FaceIndex,
		OwnerID:          optionalString(r.OwnerID),
		Embedding:        encodeFloat32s(r.Vector),
		BBox:             encodeFloat64s(r.BBox),
		Confidence:       r.Confidence,
		QualityScore:     r.QualityScore,
		Yaw:              r.Yaw,
		Pitch:            r.Pitch,
		Roll:             r.Roll,
		ImageDate:        optionalTime(r.ImageDate),
		IsVerified:       r.IsVerified,
		IsRepresentative: r.IsRepresentative,
		Thumbnail:        r.Thumbnail,
		Model:            r.Model,
		CreatedAt:        r.CreatedAt,
	}
}

func (m *embeddingModel) toRecord() database.EmbeddingRecord {
	rec := database.EmbeddingRecord{
		ID:               m.ID,
		ImageID:          m.ImageID,
		FaceIndex:        m.FaceIndex,
		Vector:           decodeFloat32s(m.Embedding),
		BBox:             decodeFloat64s(m.BBox),
		Confidence:       m.Confidence,
		QualityScore:     m.QualityScore,
		Yaw:              m.Yaw,
		Pitch:            m.Pitch,
		Roll:             m.Roll,
		IsVerified:       m.IsVerified,
		IsRepresentative: m.IsRepresentative,
		Thumbnail:        m.Thumbnail,
		Model:            m.Model,
		CreatedAt:        m.CreatedAt,
	}
	if m.OwnerID != nil {
		rec.OwnerID = *m.OwnerID
	}
	if m.ImageDate != nil {
		rec.ImageDate = *m.ImageDate
	}
	return rec
}

func (m *personModel) toPerson() database.Person {
	p := database.Person{
		ID:             m.ID,
		Name:           m.Name,
		PrimaryImageID: m.PrimaryImageID,
		PrimaryPhoto:   m.PrimaryPhoto,
		CreatedAt:      m.CreatedAt,
	}
	if m.PrimaryImageDate != nil {
		p.PrimaryImageDate = *m.PrimaryImageDate
	}
	return p
}
