package database

import (
	"context"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// EmbeddingReader provides read-only access to stored faces.
type EmbeddingReader interface {
	// Fetch returns matching records ordered by image id and face index.
	// A limit <= 0 means no limit.
	Fetch(ctx context.Context, f Filter, limit int) ([]EmbeddingRecord, error)
	// Count returns the number of matching records
	Count(ctx context.Context, f Filter) (int, error)
	// Get retrieves a record by id, returns nil if not found
	Get(ctx context.Context, id string) (*EmbeddingRecord, error)
	// ImageIDs returns up to limit distinct image ids among matching records
	ImageIDs(ctx context.Context, f Filter, limit int) ([]string, error)
}

// EmbeddingWriter provides staged write access to stored faces.
type EmbeddingWriter interface {
	EmbeddingReader

	// Insert stores a new record, assigning ID and CreatedAt when empty.
	// Returns ErrDuplicateFace when the image already has a face at that index.
	Insert(ctx context.Context, rec *EmbeddingRecord) error
	// UpdateOwner sets the owner and flags of a record. An empty owner
	// unassigns it. Returns ErrNotFound for unknown ids.
	UpdateOwner(ctx context.Context, id, ownerID string, verified, representative bool) error
	// Delete removes matching records and returns how many were removed
	Delete(ctx context.Context, f Filter) (int, error)
}

// ClusterReader provides read access to person centroids.
type ClusterReader interface {
	// GetCluster returns nil if the person has no cluster
	GetCluster(ctx context.Context, ownerID string) (*PersonCluster, error)
}

// ClusterWriter provides staged write access to person centroids.
type ClusterWriter interface {
	ClusterReader

	SaveCluster(ctx context.Context, c *PersonCluster) error
	DeleteCluster(ctx context.Context, ownerID string) error
	DeleteAllClusters(ctx context.Context) error
}

// PersonStore manages contacts. Writes are applied immediately.
type PersonStore interface {
	// GetPerson returns nil if not found
	GetPerson(ctx context.Context, id string) (*Person, error)
	ListPeople(ctx context.Context) ([]Person, error)
	// SavePerson inserts or updates, assigning ID when empty
	SavePerson(ctx context.Context, p *Person) error
	DeletePerson(ctx context.Context, id string) error
}

// Session is one logical unit of work. Writes are staged until Save commits
// them; Close discards anything not yet saved. A session may be saved many
// times. Reads observe the session's own staged writes. Sessions are not
// safe for concurrent use.
type Session interface {
	EmbeddingWriter
	ClusterWriter

	Save(ctx context.Context) error
	Close() error
}

// Store is a persistent embedding store.
type Store interface {
	EmbeddingReader
	ClusterReader
	PersonStore

	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// FetchByImage returns every stored face of an image.
func FetchByImage(ctx context.Context, r EmbeddingReader, imageID string) ([]EmbeddingRecord, error) {
	return r.Fetch(ctx, Filter{ImageID: imageID}, 0)
}

// FetchByOwner returns the faces attributed to a person.
func FetchByOwner(ctx context.Context, r EmbeddingReader, ownerID string, verifiedOnly bool) ([]EmbeddingRecord, error) {
	return r.Fetch(ctx, Filter{OwnerID: ownerID, VerifiedOnly: verifiedOnly}, 0)
}

// HasImage reports whether any face is stored for the image.
func HasImage(ctx context.Context, r EmbeddingReader, imageID string) (bool, error) {
	n, err := r.Count(ctx, Filter{ImageID: imageID})
	return n > 0, err
}

// OwnerHasImage reports whether the person already owns a face in the image.
func OwnerHasImage(ctx context.Context, r EmbeddingReader, ownerID, imageID string) (bool, error) {
	n, err := r.Count(ctx, Filter{ImageID: imageID, OwnerID: ownerID})
	return n > 0, err
}

// OwnedImageIDs returns the set of images in which the person owns a face.
func OwnedImageIDs(ctx context.Context, r EmbeddingReader, ownerID string) (map[string]struct{}, error) {
	ids, err := r.ImageIDs(ctx, Filter{OwnerID: ownerID}, 0)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// RefreshCluster recomputes a person's centroid from their verified faces
// through w. The cluster is removed when no verified faces remain.
func RefreshCluster(ctx context.Context, w Session, ownerID string) (*PersonCluster, error) {
	verified, err := FetchByOwner(ctx, w, ownerID, true)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, 0, len(verified))
	for i := range verified {
		vectors = append(vectors, verified[i].Vector)
	}
	c := facematch.Centroid(vectors)
	if c == nil {
		return nil, w.DeleteCluster(ctx, ownerID)
	}
	cluster := &PersonCluster{OwnerID: ownerID, Centroid: c, Count: len(vectors)}
	if err := w.SaveCluster(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}
