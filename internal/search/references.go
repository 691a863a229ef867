package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/extractor"
	"github.com/kozaktomas/face-matcher/internal/library"
)

// references returns the person's reference vectors and the dates to order
// the corpus around. Verified faces are preferred; without any, one is
// bootstrapped from the primary photo.
func (s *Search) references(ctx context.Context, session database.Session, person *database.Person) ([][]float32, []time.Time, error) {
	verified, err := database.FetchByOwner(ctx, session, person.ID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fetch verified faces: %w", ErrStoreUnavailable, err)
	}

	if len(verified) == 0 {
		rec, err := s.bootstrap(ctx, session, person)
		if err != nil {
			return nil, nil, err
		}
		verified = []database.EmbeddingRecord{*rec}
	}

	refs := make([][]float32, 0, len(verified))
	var anchors []time.Time
	for i := range verified {
		refs = append(refs, verified[i].Vector)
		if !verified[i].ImageDate.IsZero() {
			anchors = append(anchors, verified[i].ImageDate)
		}
	}
	if !person.PrimaryImageDate.IsZero() {
		anchors = append(anchors, person.PrimaryImageDate)
	}
	return refs, anchors, nil
}

// bootstrap extracts the largest face of the person's primary photo and
// stores it as their verified, representative face.
func (s *Search) bootstrap(ctx context.Context, session database.Session, person *database.Person) (*database.EmbeddingRecord, error) {
	if !person.HasPrimaryPhoto() {
		return nil, fmt.Errorf("%w: %s has no verified faces and no primary photo", ErrNoReference, person.Name)
	}

	imageID := database.ManualImageID(person.ID)
	date := person.PrimaryImageDate
	var faces []extractor.Face
	if len(person.PrimaryPhoto) > 0 {
		faces = s.o.faces.ExtractEncoded(ctx, person.PrimaryPhoto)
	} else {
		ref, err := s.o.source.Lookup(ctx, person.PrimaryImageID)
		if err != nil {
			return nil, fmt.Errorf("%w: primary photo of %s: %w", ErrNoReference, person.Name, err)
		}
		imageID = ref.ID
		if ref.CreatedAt != nil {
			date = *ref.CreatedAt
		}
		faces = s.o.analyze(ctx, ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, fmt.Errorf("%w: no face found in the primary photo of %s", ErrNoReference, person.Name)
	}

	best := 0
	for i := range faces {
		if faces[i].Detection.BBox.Area() > faces[best].Detection.BBox.Area() {
			best = i
		}
	}

	rec, err := s.assignPrimaryFace(ctx, session, imageID, date, faces, best)
	if err != nil {
		return nil, err
	}

	if _, err := database.RefreshCluster(ctx, session, person.ID); err != nil {
		return nil, fmt.Errorf("%w: refresh cluster: %w", ErrStoreUnavailable, err)
	}
	if err := session.Save(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	s.o.cache.MarkAnalyzed(imageID)
	return rec, nil
}

// assignPrimaryFace makes faces[best] the person's verified face. When the
// image was analyzed before, the stored face overlapping it most is reused
// instead of inserting new records.
func (s *Search) assignPrimaryFace(ctx context.Context, session database.Session, imageID string, date time.Time, faces []extractor.Face, best int) (*database.EmbeddingRecord, error) {
	stored, err := database.FetchByImage(ctx, session, imageID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch faces of %s: %w", ErrStoreUnavailable, imageID, err)
	}

	if len(stored) > 0 {
		target := faces[best].Detection.BBox
		pick := 0
		for i := range stored {
			if stored[i].Box().IoU(target) > stored[pick].Box().IoU(target) {
				pick = i
			}
		}
		rec := stored[pick]
		if rec.IsVerified && rec.OwnerID != "" && rec.OwnerID != s.personID {
			return nil, fmt.Errorf("%w: the primary photo face is verified for another person", ErrNoReference)
		}
		if err := session.UpdateOwner(ctx, rec.ID, s.personID, true, true); err != nil {
			return nil, fmt.Errorf("%w: assign primary face: %w", ErrStoreUnavailable, err)
		}
		rec.OwnerID, rec.IsVerified, rec.IsRepresentative = s.personID, true, true
		return &rec, nil
	}

	var primary *database.EmbeddingRecord
	for i, f := range faces {
		rec := s.o.newRecord(imageID, date, i, f)
		if i == best {
			rec.OwnerID, rec.IsVerified, rec.IsRepresentative = s.personID, true, true
		}
		if err := session.Insert(ctx, rec); err != nil && !errors.Is(err, database.ErrDuplicateFace) {
			return nil, fmt.Errorf("%w: store primary face: %w", ErrStoreUnavailable, err)
		}
		if i == best {
			primary = rec
		}
	}
	return primary, nil
}

// analyze loads and extracts one library image. Failures yield no faces.
func (o *Orchestrator) analyze(ctx context.Context, ref library.ImageRef) []extractor.Face {
	img, err := o.source.Load(ctx, ref, o.opts.MaxImageSize)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("search: load %s: %v", ref.ID, err)
		}
		return nil
	}
	return o.faces.Extract(ctx, img.Image, img.Orientation)
}

func (o *Orchestrator) newRecord(imageID string, date time.Time, index int, f extractor.Face) *database.EmbeddingRecord {
	d := f.Detection
	return &database.EmbeddingRecord{
		ImageID:      imageID,
		FaceIndex:    index,
		Vector:       f.Vector,
		BBox:         d.BBox.Slice(),
		Confidence:   d.Confidence,
		QualityScore: d.Quality,
		Yaw:          d.Pose.Yaw,
		Pitch:        d.Pose.Pitch,
		Roll:         d.Pose.Roll,
		ImageDate:    date,
		Thumbnail:    f.Thumbnail,
		Model:        o.faces.Model(),
	}
}
