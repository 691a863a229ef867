package search

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/mock"
	"github.com/kozaktomas/face-matcher/internal/extractor"
	"github.com/kozaktomas/face-matcher/internal/extractor/extractortest"
	"github.com/kozaktomas/face-matcher/internal/facecache"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/library/librarytest"
)

var (
	refVec     = []float32{1, 0, 0}
	similarVec = []float32{0.99, 0.1, 0}
	otherVec   = []float32{0, 1, 0}
	faceBox    = facematch.BBox{X: 0.3, Y: 0.3, W: 0.3, H: 0.3}
)

const personID = "p1"

type env struct {
	store    *mock.MockStore
	source   *librarytest.Source
	analyzer *extractortest.Analyzer
	orch     *Orchestrator
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	return newEnvScanCap(t, opts, 0)
}

// newEnvScanCap bounds the analyzed image scan of the cache at scanCap.
func newEnvScanCap(t *testing.T, opts Options, scanCap int) *env {
	t.Helper()
	e := &env{
		store:    mock.NewMockStore(),
		source:   librarytest.New(),
		analyzer: extractortest.New(),
	}
	extOpts := extractor.DefaultOptions()
	extOpts.Timeout = 0
	ext := extractor.New(e.analyzer, extOpts)
	matcher := facematch.NewMatcher(e.analyzer, 0.55, 0.88)
	cache := facecache.New(e.store, scanCap, facematch.OriginBottomLeft)
	e.orch = New(e.store, e.source, ext, matcher, cache, opts)
	t.Cleanup(e.orch.Close)
	return e
}

// addImage adds a library image showing faces with the given vectors.
func (e *env) addImage(id string, date time.Time, vectors ...[]float32) {
	faces := make([]extractortest.Face, len(vectors))
	for i, v := range vectors {
		box := faceBox
		box.X = 0.05 + float64(i)*0.32
		faces[i] = extractortest.Face{Box: box, Vector: v}
	}
	e.source.Add(id, date, e.analyzer.Paint(200, 200, faces...))
}

// addVerifiedPerson adds a person with one verified face in image "A".
func (e *env) addVerifiedPerson() {
	e.store.AddPerson(database.Person{ID: personID, Name: "Jan"})
	e.store.AddRecord(database.EmbeddingRecord{
		ImageID: "A", OwnerID: personID, Vector: refVec, BBox: faceBox.Slice(),
		IsVerified: true, IsRepresentative: true, ImageDate: librarytest.Date(2015, 1, 1),
	})
}

func (e *env) owned(t *testing.T) []database.EmbeddingRecord {
	t.Helper()
	recs, err := database.FetchByOwner(context.Background(), e.store, personID, false)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestStartSearch_Scenario(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addVerifiedPerson()
	e.source.Add("A", librarytest.Date(2015, 1, 1), image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	e.source.Add("B", librarytest.Date(2015, 1, 2), image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	e.store.AddRecord(database.EmbeddingRecord{ID: "b0", ImageID: "B", Vector: similarVec, BBox: faceBox.Slice()})
	e.addImage("C", librarytest.Date(2020, 1, 1), otherVec)

	n, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}
	if n != 1 {
		t.Errorf("StartSearch() = %d, want 1", n)
	}

	b, _ := e.store.Get(context.Background(), "b0")
	if b.OwnerID != personID || b.IsVerified {
		t.Errorf("B face = owner %q verified %v, want owner %q unverified", b.OwnerID, b.IsVerified, personID)
	}

	c, _ := database.FetchByImage(context.Background(), e.store, "C")
	if len(c) != 1 || c[0].OwnerID != "" {
		t.Errorf("C faces = %+v, want one unassigned face", c)
	}
	if calls := e.analyzer.DetectCalls(); calls != 1 {
		t.Errorf("DetectCalls = %d, want 1 (only C is extracted)", calls)
	}
	if e.orch.InProgress(personID) {
		t.Error("token should be released after the search")
	}
}

func TestStartSearch_Idempotent(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 3, 1), similarVec, otherVec)
	e.addImage("D", librarytest.Date(2016, 3, 1), similarVec)

	first, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("first StartSearch() error: %v", err)
	}
	second, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("second StartSearch() error: %v", err)
	}
	if first != 2 || second != 0 {
		t.Errorf("matches = %d then %d, want 2 then 0", first, second)
	}

	perImage := make(map[string]int)
	for _, r := range e.owned(t) {
		perImage[r.ImageID]++
	}
	for id, n := range perImage {
		if n != 1 {
			t.Errorf("image %s has %d faces of the person, want 1", id, n)
		}
	}
	if calls := e.analyzer.DetectCalls(); calls != 2 {
		t.Errorf("DetectCalls = %d, want 2", calls)
	}
}

func TestStartSearch_Exclusive(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 3, 1), similarVec)

	started := make(chan struct{})
	var once sync.Once
	e.analyzer.Gate = make(chan struct{})
	e.analyzer.OnDetect = func() { once.Do(func() { close(started) }) }

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.StartSearch(context.Background(), personID, nil)
		done <- err
	}()
	<-started

	if _, err := e.orch.StartSearch(context.Background(), personID, nil); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("concurrent StartSearch() error = %v, want ErrAlreadyInProgress", err)
	}
	if calls := e.analyzer.DetectCalls(); calls != 1 {
		t.Errorf("DetectCalls = %d, want 1", calls)
	}

	close(e.analyzer.Gate)
	if err := <-done; err != nil {
		t.Fatalf("first StartSearch() error: %v", err)
	}
	if e.orch.InProgress(personID) {
		t.Error("token should be released")
	}
}

func TestBegin(t *testing.T) {
	e := newEnv(t, DefaultOptions())

	s, err := e.orch.Begin(personID)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if _, err := e.orch.Begin(personID); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("second Begin() error = %v, want ErrAlreadyInProgress", err)
	}
	if _, err := e.orch.Begin("other"); err != nil {
		t.Errorf("Begin() for another person error: %v", err)
	}
	s.Cancel()
	s.Cancel()
	if e.orch.InProgress(personID) {
		t.Error("Cancel should release the token")
	}

	e.orch.Close()
	if _, err := e.orch.Begin(personID); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin() after Close error = %v, want ErrClosed", err)
	}
}

func TestStartSearch_BootstrapFromManualPhoto(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	small := facematch.BBox{X: 0.05, Y: 0.05, W: 0.15, H: 0.15}
	photo := e.analyzer.Paint(200, 200,
		extractortest.Face{Box: small, Vector: otherVec},
		extractortest.Face{Box: facematch.BBox{X: 0.4, Y: 0.4, W: 0.4, H: 0.4}, Vector: refVec},
	)
	e.store.AddPerson(database.Person{ID: personID, Name: "Jan", PrimaryPhoto: extractortest.PNG(photo)})
	e.addImage("C", librarytest.Date(2015, 3, 1), similarVec)

	n, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}
	if n != 1 {
		t.Errorf("StartSearch() = %d, want 1", n)
	}

	manual, _ := database.FetchByImage(context.Background(), e.store, database.ManualImageID(personID))
	if len(manual) != 2 {
		t.Fatalf("manual photo faces = %d, want 2", len(manual))
	}
	var verified int
	for _, r := range manual {
		if r.IsVerified {
			verified++
			if r.OwnerID != personID || !r.IsRepresentative || r.Vector[0] != 1 {
				t.Errorf("verified face = %+v, want the larger face owned by the person", r)
			}
		}
	}
	if verified != 1 {
		t.Errorf("verified faces = %d, want 1", verified)
	}

	cluster, _ := e.store.GetCluster(context.Background(), personID)
	if cluster == nil || cluster.Count != 1 {
		t.Errorf("cluster = %+v, want one verified face", cluster)
	}
}

func TestStartSearch_BootstrapReusesStoredFace(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addImage("L", librarytest.Date(2015, 1, 1), refVec)
	e.addImage("C", librarytest.Date(2015, 1, 5), similarVec)
	e.store.AddPerson(database.Person{ID: personID, Name: "Jan", PrimaryImageID: "L"})

	// L was analyzed by an earlier scan
	box := faceBox
	box.X = 0.05
	e.store.AddRecord(database.EmbeddingRecord{ID: "l0", ImageID: "L", Vector: refVec, BBox: box.Slice()})

	n, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}
	if n != 1 {
		t.Errorf("StartSearch() = %d, want 1", n)
	}

	l, _ := database.FetchByImage(context.Background(), e.store, "L")
	if len(l) != 1 {
		t.Fatalf("L faces = %d, want the stored face reused", len(l))
	}
	if l[0].ID != "l0" || !l[0].IsVerified || l[0].OwnerID != personID {
		t.Errorf("L face = %+v, want l0 verified for the person", l[0])
	}
}

func TestStartSearch_NoReference(t *testing.T) {
	tests := []struct {
		name   string
		person database.Person
	}{
		{name: "no primary photo", person: database.Person{ID: personID, Name: "Jan"}},
		{name: "faceless photo", person: database.Person{ID: personID, Name: "Jan", PrimaryPhoto: extractortest.PNG(image.NewNRGBA(image.Rect(0, 0, 50, 50)))}},
		{name: "undecodable photo", person: database.Person{ID: personID, Name: "Jan", PrimaryPhoto: []byte("junk")}},
		{name: "missing library image", person: database.Person{ID: personID, Name: "Jan", PrimaryImageID: "gone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, DefaultOptions())
			e.store.AddPerson(tt.person)

			_, err := e.orch.StartSearch(context.Background(), personID, nil)
			if !errors.Is(err, ErrNoReference) {
				t.Errorf("StartSearch() error = %v, want ErrNoReference", err)
			}
			if e.orch.InProgress(personID) {
				t.Error("token should be released on error")
			}
			if len(e.store.Records()) != 0 {
				t.Error("a failed bootstrap must not store anything")
			}
		})
	}
}

func TestStartSearch_StoreErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		inject  func(*mock.MockStore)
		wantErr error
	}{
		{name: "unknown person", inject: func(m *mock.MockStore) {}, wantErr: ErrPersonNotFound},
		{name: "get person", inject: func(m *mock.MockStore) { m.GetPersonError = boom }, wantErr: ErrStoreUnavailable},
		{name: "open session", inject: func(m *mock.MockStore) { m.NewSessionError = boom }, wantErr: ErrStoreUnavailable},
		{name: "fetch", inject: func(m *mock.MockStore) { m.FetchError = boom }, wantErr: ErrStoreUnavailable},
		{name: "insert", inject: func(m *mock.MockStore) { m.InsertError = boom }, wantErr: ErrStoreUnavailable},
		{name: "save", inject: func(m *mock.MockStore) { m.SaveError = boom }, wantErr: ErrSaveFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, DefaultOptions())
			if tt.name != "unknown person" {
				e.addVerifiedPerson()
			}
			e.addImage("C", librarytest.Date(2015, 3, 1), similarVec)
			tt.inject(e.store)

			_, err := e.orch.StartSearch(context.Background(), personID, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("StartSearch() error = %v, want %v", err, tt.wantErr)
			}
			if e.orch.InProgress(personID) {
				t.Error("token should be released on error")
			}
		})
	}
}

func TestStartSearch_CorpusFetchFailure(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addVerifiedPerson()
	e.source.FetchError = errors.New("photo library offline")

	n, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil || n != 0 {
		t.Errorf("StartSearch() = %d, %v, want 0, nil", n, err)
	}
}

func TestStartSearch_ImageFailureIsSkipped(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 3, 1), similarVec)
	e.addImage("D", librarytest.Date(2015, 3, 2), similarVec)
	e.source.LoadError = map[string]error{"C": errors.New("corrupt")}

	n, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}
	if n != 1 {
		t.Errorf("StartSearch() = %d, want 1", n)
	}
}

func TestStartSearch_Cancelled(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 1
	opts.Concurrency = 1
	e := newEnv(t, opts)
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 3, 1), similarVec)
	e.addImage("D", librarytest.Date(2015, 3, 2), similarVec)
	e.addImage("E", librarytest.Date(2015, 3, 3), similarVec)

	ctx, cancel := context.WithCancel(context.Background())
	e.analyzer.OnDetect = cancel

	_, err := e.orch.StartSearch(ctx, personID, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("StartSearch() error = %v, want context.Canceled", err)
	}
	if calls := e.analyzer.DetectCalls(); calls != 1 {
		t.Errorf("DetectCalls = %d, want 1", calls)
	}
	if e.orch.InProgress(personID) {
		t.Error("token should be released after cancellation")
	}
}

type progressLog struct {
	mu      sync.Mutex
	reports []Progress
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, p)
}

func (l *progressLog) phases() map[Phase]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Phase]int)
	for _, p := range l.reports {
		out[p.Phase]++
	}
	return out
}

func TestStartSearch_BackgroundContinuation(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 1
	opts.InitialCeiling = 1
	e := newEnv(t, opts)
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 1, 2), similarVec)
	e.addImage("D", librarytest.Date(2015, 1, 3), similarVec)
	e.addImage("E", librarytest.Date(2015, 1, 4), similarVec)

	var pl progressLog
	n, err := e.orch.StartSearch(context.Background(), personID, pl.record)
	if err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}
	if n != 1 {
		t.Errorf("StartSearch() = %d, want 1 before the continuation", n)
	}

	e.orch.Wait()
	if e.orch.InProgress(personID) {
		t.Error("token should be released after the continuation")
	}
	// A plus C, D and E
	if owned := e.owned(t); len(owned) != 4 {
		t.Errorf("owned faces = %d, want 4", len(owned))
	}
	phases := pl.phases()
	if phases[PhaseExtract] != 1 || phases[PhaseContinuation] != 2 {
		t.Errorf("progress phases = %v", phases)
	}
}

func TestStartSearch_ContinuationOff(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 1
	opts.InitialCeiling = 1
	opts.Continuation = ContinuationOff
	e := newEnv(t, opts)
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 1, 2), similarVec)
	e.addImage("D", librarytest.Date(2015, 1, 3), similarVec)

	for i, want := range []int{1, 1, 0} {
		n, err := e.orch.StartSearch(context.Background(), personID, nil)
		if err != nil {
			t.Fatalf("search %d error: %v", i, err)
		}
		if n != want {
			t.Errorf("search %d = %d, want %d", i, n, want)
		}
		if e.orch.InProgress(personID) {
			t.Errorf("search %d kept the token", i)
		}
	}
}

func TestStartSearch_ProgressTotals(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 2
	e := newEnv(t, opts)
	e.addVerifiedPerson()
	e.addImage("C", librarytest.Date(2015, 1, 2), similarVec)
	e.addImage("D", librarytest.Date(2015, 1, 3), otherVec)
	e.addImage("E", librarytest.Date(2015, 1, 4), otherVec)
	e.store.AddRecord(database.EmbeddingRecord{ImageID: "F", Vector: otherVec, BBox: faceBox.Slice()})
	e.source.Add("F", librarytest.Date(2015, 1, 5), image.NewNRGBA(image.Rect(0, 0, 10, 10)))

	var pl progressLog
	if _, err := e.orch.StartSearch(context.Background(), personID, pl.record); err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}

	want := []Progress{
		{Phase: PhaseExtract, Processed: 2, Total: 4, Matched: 1},
		{Phase: PhaseExtract, Processed: 3, Total: 4, Matched: 1},
		{Phase: PhaseMatch, Processed: 4, Total: 4, Matched: 1},
	}
	if len(pl.reports) != len(want) {
		t.Fatalf("progress = %+v, want %+v", pl.reports, want)
	}
	for i := range want {
		if pl.reports[i] != want[i] {
			t.Errorf("progress[%d] = %+v, want %+v", i, pl.reports[i], want[i])
		}
	}
}

func TestStartSearch_CorpusLargerThanScanCap(t *testing.T) {
	e := newEnvScanCap(t, DefaultOptions(), 2)
	e.addVerifiedPerson()
	e.addImage("a1", librarytest.Date(2001, 1, 1), otherVec)
	e.addImage("a2", librarytest.Date(2002, 1, 1), otherVec)
	e.addImage("z", librarytest.Date(2015, 1, 2), similarVec)

	n, err := e.orch.StartSearch(context.Background(), personID, nil)
	if err != nil {
		t.Fatalf("StartSearch() error: %v", err)
	}
	if n != 1 {
		t.Errorf("StartSearch() = %d, want the face in z matched", n)
	}
	if calls := e.analyzer.DetectCalls(); calls != 3 {
		t.Errorf("DetectCalls = %d, want every corpus image extracted", calls)
	}

	// a capped analyzed scan only costs redundant work
	if n, err := e.orch.StartSearch(context.Background(), personID, nil); err != nil || n != 0 {
		t.Errorf("second StartSearch() = %d, %v, want 0, nil", n, err)
	}
}

func TestStartSearch_ContinuationStopsWithCallerContext(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 1
	opts.InitialCeiling = 1
	opts.Concurrency = 1
	e := newEnv(t, opts)
	e.addVerifiedPerson()
	for i, id := range []string{"C", "D", "E", "F", "G"} {
		e.addImage(id, librarytest.Date(2015, 1, 2+i), similarVec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	var mu sync.Mutex
	e.analyzer.OnDetect = func() {
		mu.Lock()
		defer mu.Unlock()
		calls++
		// first continuation image
		if calls == 2 {
			cancel()
		}
	}

	s, err := e.orch.Begin(personID)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if n, err := s.Run(ctx, nil); err != nil || n != 1 {
		t.Fatalf("Run() = %d, %v, want 1, nil", n, err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("continuation did not stop after the caller cancelled")
	}
	if got := e.analyzer.DetectCalls(); got != 2 {
		t.Errorf("DetectCalls = %d, want 2 (no batch starts after cancel)", got)
	}
	if e.orch.InProgress(personID) {
		t.Error("token should be released")
	}
}

func TestSearch_DoneWithoutContinuation(t *testing.T) {
	e := newEnv(t, DefaultOptions())
	e.addVerifiedPerson()

	s, err := e.orch.Begin(personID)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if _, err := s.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed once Run returned without a continuation")
	}
}
