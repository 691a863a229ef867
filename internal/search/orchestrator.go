// Package search runs person searches: it collects a person's reference
// faces, scans the library in temporal proximity order and attributes the
// matching faces to the person.
package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/extractor"
	"github.com/kozaktomas/face-matcher/internal/facecache"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/library"
)

// FaceExtractor turns images into accepted faces.
type FaceExtractor interface {
	Extract(ctx context.Context, img image.Image, orientation int) []extractor.Face
	ExtractEncoded(ctx context.Context, data []byte) []extractor.Face
	Model() string
}

// Orchestrator runs at most one search per person at a time.
type Orchestrator struct {
	store   database.Store
	source  library.Source
	faces   FaceExtractor
	matcher *facematch.Matcher
	cache   *facecache.Cache
	opts    Options

	mu     sync.Mutex
	active map[string]struct{}
	closed bool

	// background continuations are cancelled by baseCtx or by the context
	// their search was run with, and are tracked by wg
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(store database.Store, source library.Source, faces FaceExtractor, matcher *facematch.Matcher, cache *facecache.Cache, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   store,
		source:  source,
		faces:   faces,
		matcher: matcher,
		cache:   cache,
		opts:    opts.normalized(),
		active:  make(map[string]struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Search is an admitted search holding the person's token until it finishes.
type Search struct {
	o        *Orchestrator
	personID string
	once     sync.Once
	done     chan struct{}
}

// Begin admits a search for personID, failing with ErrAlreadyInProgress when
// one is already running. The token is held until Run finishes, including a
// background continuation; Cancel releases a search that is never run.
func (o *Orchestrator) Begin(personID string) (*Search, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if _, ok := o.active[personID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInProgress, personID)
	}
	o.active[personID] = struct{}{}
	return &Search{o: o, personID: personID, done: make(chan struct{})}, nil
}

// StartSearch admits and runs a search, returning the number of faces
// attributed to the person before the search returned.
func (o *Orchestrator) StartSearch(ctx context.Context, personID string, progress ProgressFunc) (int, error) {
	s, err := o.Begin(personID)
	if err != nil {
		return 0, err
	}
	return s.Run(ctx, progress)
}

// InProgress reports whether a search for personID holds its token.
func (o *Orchestrator) InProgress(personID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[personID]
	return ok
}

// Wait blocks until every background continuation finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops background continuations and rejects new searches.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// Cancel releases the token of a search that will not be run.
func (s *Search) Cancel() {
	s.release()
}

// Done is closed when the search released its token, after a background
// continuation if one ran.
func (s *Search) Done() <-chan struct{} {
	return s.done
}

func (s *Search) release() {
	s.once.Do(func() {
		s.o.mu.Lock()
		delete(s.o.active, s.personID)
		s.o.mu.Unlock()
		close(s.done)
	})
}

// Run executes the search. A cancelled ctx stops it at the next batch or
// image boundary and returns the count so far with the context's error.
// A background continuation keeps observing ctx after Run returned, so
// callers that want it to finish must not cancel ctx until Done is closed.
func (s *Search) Run(ctx context.Context, progress ProgressFunc) (int, error) {
	if progress == nil {
		progress = func(Progress) {}
	}

	deferred, refs, matched, err := s.run(ctx, progress)
	if err != nil || len(deferred) == 0 || s.o.opts.Continuation == ContinuationOff {
		if len(deferred) > 0 && err == nil {
			log.Printf("search: %d images for %s left for the next search", len(deferred), s.personID)
		}
		s.release()
		return matched, err
	}

	s.o.mu.Lock()
	if s.o.closed {
		s.o.mu.Unlock()
		s.release()
		return matched, nil
	}
	s.o.wg.Add(1)
	s.o.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.o.baseCtx, cancel)
	go func() {
		defer cancel()
		defer stop()
		s.continueInBackground(cctx, deferred, refs, progress)
	}()
	return matched, nil
}

// run performs the search up to the initial ceiling and returns the images
// left for the continuation with the reference vectors to match them against.
func (s *Search) run(ctx context.Context, progress ProgressFunc) ([]library.ImageRef, [][]float32, int, error) {
	o := s.o
	person, err := o.store.GetPerson(ctx, s.personID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: get person: %w", ErrStoreUnavailable, err)
	}
	if person == nil {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrPersonNotFound, s.personID)
	}

	session, err := o.store.NewSession(ctx)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: open session: %w", ErrStoreUnavailable, err)
	}
	defer session.Close()

	refs, anchors, err := s.references(ctx, session, person)
	if err != nil {
		return nil, nil, 0, err
	}

	toExtract, toMatch, err := s.plan(ctx, session, anchors)
	if err != nil {
		return nil, nil, 0, err
	}

	primary, deferred := toExtract, []library.ImageRef(nil)
	if len(toExtract) > o.opts.InitialCeiling {
		primary, deferred = toExtract[:o.opts.InitialCeiling], toExtract[o.opts.InitialCeiling:]
	}

	b := &batcher{s: s, session: session, refs: refs, progress: progress, total: len(primary) + len(toMatch)}
	if err := b.extract(ctx, primary, PhaseExtract); err != nil {
		return nil, nil, b.matched, err
	}
	if err := b.matchOnly(ctx, toMatch); err != nil {
		return nil, nil, b.matched, err
	}
	return deferred, refs, b.matched, nil
}

// plan fetches the whole corpus, orders it by proximity to the anchors, drops the
// images the person already owns a face in and splits the rest by whether
// faces are stored for them.
func (s *Search) plan(ctx context.Context, session database.Session, anchors []time.Time) (toExtract, toMatch []library.ImageRef, err error) {
	o := s.o
	corpus, err := o.source.FetchCorpus(ctx, library.Filter{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		log.Printf("search: fetch corpus: %v", err)
		corpus = nil
	}

	owned, err := database.OwnedImageIDs(ctx, session, s.personID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list owned images: %w", ErrStoreUnavailable, err)
	}

	candidates := make([]library.ImageRef, 0, len(corpus))
	ids := make([]string, 0, len(corpus))
	for _, ref := range corpus {
		if _, ok := owned[ref.ID]; ok || database.IsManualImage(ref.ID) {
			continue
		}
		candidates = append(candidates, ref)
		ids = append(ids, ref.ID)
	}
	candidates = orderByProximity(candidates, anchors)

	analyzed, truncated, err := o.cache.In(session).ImageIDsWithStoredFaces(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list analyzed images: %w", ErrStoreUnavailable, err)
	}
	if truncated {
		log.Printf("search: analyzed image scan capped, some images may be extracted again")
	}

	for _, ref := range candidates {
		if _, ok := analyzed[ref.ID]; ok {
			toMatch = append(toMatch, ref)
		} else {
			toExtract = append(toExtract, ref)
		}
	}
	return toExtract, toMatch, nil
}

func (s *Search) continueInBackground(ctx context.Context, deferred []library.ImageRef, refs [][]float32, progress ProgressFunc) {
	defer s.o.wg.Done()
	defer s.release()

	session, err := s.o.store.NewSession(ctx)
	if err != nil {
		log.Printf("search: continuation for %s: open session: %v", s.personID, err)
		return
	}
	defer session.Close()

	b := &batcher{s: s, session: session, refs: refs, progress: progress, total: len(deferred)}
	if err := b.extract(ctx, deferred, PhaseContinuation); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("search: continuation for %s: %v", s.personID, err)
	}
	log.Printf("search: continuation for %s processed %d images, matched %d faces", s.personID, b.processed, b.matched)
}
