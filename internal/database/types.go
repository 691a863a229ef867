package database

import (
	"errors"
	"strings"
	"time"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

var (
	// ErrDuplicateFace is returned by Insert when (image_id, face_index) is already stored.
	ErrDuplicateFace = errors.New("face already stored for image")
	// ErrNotFound is returned by updates addressing a missing record.
	ErrNotFound = errors.New("record not found")
)

// EmbeddingRecord is one stored face: its feature vector plus provenance.
// An empty OwnerID means the face is not attributed to anyone.
type EmbeddingRecord struct {
	ID               string
	ImageID          string
	FaceIndex        int // position among the image's accepted detections
	OwnerID          string
	Vector           []float32
	BBox             []float64 // [x, y, w, h] normalized, bottom-left origin unless configured otherwise
	Confidence       float64
	QualityScore     *float64
	Yaw              float64
	Pitch            float64
	Roll             float64
	ImageDate        time.Time
	IsVerified       bool
	IsRepresentative bool
	Thumbnail        []byte
	Model            string
	CreatedAt        time.Time
}

func (r *EmbeddingRecord) IsAssigned() bool {
	return r.OwnerID != ""
}

func (r *EmbeddingRecord) Box() facematch.BBox {
	return facematch.BBoxFromSlice(r.BBox)
}

func (r *EmbeddingRecord) Pose() facematch.Pose {
	return facematch.Pose{Yaw: r.Yaw, Pitch: r.Pitch, Roll: r.Roll}
}

// Person is a contact whose faces are searched for.
type Person struct {
	ID               string
	Name             string
	PrimaryImageID   string    // library image holding the primary photo
	PrimaryImageDate time.Time // zero when unknown
	PrimaryPhoto     []byte    // encoded manual photo, takes precedence over PrimaryImageID
	CreatedAt        time.Time
}

// HasPrimaryPhoto reports whether the person has any primary photo to bootstrap from.
func (p *Person) HasPrimaryPhoto() bool {
	return len(p.PrimaryPhoto) > 0 || p.PrimaryImageID != ""
}

// PersonCluster is the normalized centroid of a person's verified embeddings.
type PersonCluster struct {
	OwnerID   string
	Centroid  []float32
	Count     int
	UpdatedAt time.Time
}

// ManualImageID is the synthetic image id for a person's manual primary photo.
func ManualImageID(personID string) string {
	return constants.ManualImagePrefix + personID
}

// IsManualImage reports whether imageID belongs to the manual photo namespace.
func IsManualImage(imageID string) bool {
	return strings.HasPrefix(imageID, constants.ManualImagePrefix)
}
