package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/search"
)

// NewPerson describes a contact to add. PrimaryPhoto (an encoded image)
// takes precedence over PrimaryImageID.
type NewPerson struct {
	Name           string
	PrimaryImageID string
	PrimaryPhoto   []byte
}

// AddPerson stores a new contact. Names are compared ignoring case,
// diacritics and extra whitespace.
func (e *Engine) AddPerson(ctx context.Context, in NewPerson) (*database.Person, error) {
	name := strings.Join(strings.Fields(in.Name), " ")
	if name == "" {
		return nil, fmt.Errorf("person name is required")
	}

	people, err := e.store.ListPeople(ctx)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	for _, p := range people {
		if facematch.SamePersonName(p.Name, name) {
			return nil, fmt.Errorf("%w: %s", ErrPersonExists, p.Name)
		}
	}

	p := &database.Person{Name: name, PrimaryPhoto: in.PrimaryPhoto}
	if in.PrimaryImageID != "" && len(in.PrimaryPhoto) == 0 {
		ref, err := e.source.Lookup(ctx, in.PrimaryImageID)
		if err != nil {
			return nil, fmt.Errorf("primary image: %w", err)
		}
		p.PrimaryImageID = ref.ID
		if ref.CreatedAt != nil {
			p.PrimaryImageDate = *ref.CreatedAt
		}
	}

	if err := e.store.SavePerson(ctx, p); err != nil {
		return nil, fmt.Errorf("save person: %w", err)
	}
	return p, nil
}

// GetPerson returns search.ErrPersonNotFound for unknown ids.
func (e *Engine) GetPerson(ctx context.Context, personID string) (*database.Person, error) {
	p, err := e.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", search.ErrPersonNotFound, personID)
	}
	return p, nil
}

// FindPerson resolves a person by id or, failing that, by name.
func (e *Engine) FindPerson(ctx context.Context, idOrName string) (*database.Person, error) {
	if p, err := e.store.GetPerson(ctx, idOrName); err != nil || p != nil {
		return p, err
	}
	people, err := e.store.ListPeople(ctx)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	for i := range people {
		if facematch.SamePersonName(people[i].Name, idOrName) {
			return &people[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", search.ErrPersonNotFound, idOrName)
}

func (e *Engine) ListPeople(ctx context.Context) ([]database.Person, error) {
	return e.store.ListPeople(ctx)
}

// DeletePerson removes the person with their faces and cluster. It fails
// with search.ErrAlreadyInProgress while a search for them runs.
func (e *Engine) DeletePerson(ctx context.Context, personID string) error {
	s, err := e.searches.Begin(personID)
	if err != nil {
		return err
	}
	defer s.Cancel()

	if err := e.requirePerson(ctx, personID); err != nil {
		return err
	}

	session, err := e.store.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	if _, err := session.Delete(ctx, database.Filter{OwnerID: personID}); err != nil {
		return fmt.Errorf("delete faces: %w", err)
	}
	// the other faces of the manual photo belong to nobody else
	if _, err := session.Delete(ctx, database.Filter{ImageID: database.ManualImageID(personID)}); err != nil {
		return fmt.Errorf("delete manual photo faces: %w", err)
	}
	if err := session.DeleteCluster(ctx, personID); err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	if err := session.Save(ctx); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := e.store.DeletePerson(ctx, personID); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}

	// images that lost their only face must be analyzable again
	e.cache.Forget()
	return nil
}

// RefreshCluster recomputes the person's centroid from their verified
// faces. It returns nil when no verified face remains.
func (e *Engine) RefreshCluster(ctx context.Context, personID string) (*database.PersonCluster, error) {
	if err := e.requirePerson(ctx, personID); err != nil {
		return nil, err
	}
	session, err := e.store.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	cluster, err := database.RefreshCluster(ctx, session, personID)
	if err != nil {
		return nil, fmt.Errorf("refresh cluster: %w", err)
	}
	if err := session.Save(ctx); err != nil {
		return nil, fmt.Errorf("save cluster: %w", err)
	}
	return cluster, nil
}

func (e *Engine) requirePerson(ctx context.Context, personID string) error {
	_, err := e.GetPerson(ctx, personID)
	return err
}
