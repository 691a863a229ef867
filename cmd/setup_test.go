package cmd

import (
	"testing"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/search"
)

func TestEngineOptions(t *testing.T) {
	cfg := &config.Config{Tuning: config.Defaults()}
	cfg.Tuning.Search.Continuation = "off"
	cfg.Database.HNSWIndexPath = "/tmp/faces.hnsw"

	opts := engineOptions(cfg, facematch.OriginTopLeft)

	if opts.ObservationThreshold != 0.55 || opts.CosineThreshold != 0.88 {
		t.Errorf("thresholds = %v/%v, want 0.55/0.88", opts.ObservationThreshold, opts.CosineThreshold)
	}
	if opts.ExploratoryThreshold != 0.75 || opts.ExploratoryTopK != 50 {
		t.Errorf("exploratory = %v/%d, want 0.75/50", opts.ExploratoryThreshold, opts.ExploratoryTopK)
	}
	if opts.Search.Continuation != search.ContinuationOff {
		t.Errorf("continuation = %v, want off", opts.Search.Continuation)
	}
	if opts.Search.BatchSize != 50 || opts.Search.InitialCeiling != 2000 {
		t.Errorf("search options = %+v", opts.Search)
	}
	if opts.Origin != facematch.OriginTopLeft || opts.HNSWIndexPath != "/tmp/faces.hnsw" {
		t.Errorf("origin %v, index path %q", opts.Origin, opts.HNSWIndexPath)
	}
}

func TestExtractorOptions(t *testing.T) {
	opts := extractorOptions(config.Defaults(), facematch.OriginBottomLeft)

	if opts.Quality != facematch.DefaultQualityOptions() {
		t.Errorf("quality = %+v, want defaults", opts.Quality)
	}
	if opts.Timeout != 0 || opts.ThumbnailSize != 160 || opts.CropPadding != 0.20 {
		t.Errorf("extractor options = %+v", opts)
	}
}

func TestPhotoRef(t *testing.T) {
	cfg := &config.Config{}
	if got := photoRef(cfg, "abc"); got != "abc" {
		t.Errorf("photoRef() = %q, want abc", got)
	}
	cfg.PhotoPrism.Domain = "https://photos.example.com"
	if got := photoRef(cfg, "abc"); got == "abc" {
		t.Error("expected a hyperlink when a PhotoPrism domain is set")
	}
	cfg.Library.Root = "/photos"
	if got := photoRef(cfg, "abc"); got != "abc" {
		t.Errorf("photoRef() = %q, want plain id for a local library", got)
	}
}

func TestBackendKinds(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.Config
		wantStore  string
		wantSource string
	}{
		{
			name:       "defaults",
			cfg:        config.Config{Database: config.DatabaseConfig{SQLitePath: "faces.db"}, PhotoPrism: config.PhotoPrismConfig{URL: "http://pp"}},
			wantStore:  "sqlite faces.db",
			wantSource: "photoprism http://pp",
		},
		{
			name:       "postgres and library",
			cfg:        config.Config{Database: config.DatabaseConfig{URL: "postgres://x"}, Library: config.LibraryConfig{Root: "/photos"}},
			wantStore:  "postgres",
			wantSource: "library /photos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storeKind(&tt.cfg); got != tt.wantStore {
				t.Errorf("storeKind() = %q, want %q", got, tt.wantStore)
			}
			if got := sourceKind(&tt.cfg); got != tt.wantSource {
				t.Errorf("sourceKind() = %q, want %q", got, tt.wantSource)
			}
		})
	}
}
