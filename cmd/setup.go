package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/postgres"
	"github.com/kozaktomas/face-matcher/internal/database/sqlite"
	"github.com/kozaktomas/face-matcher/internal/engine"
	"github.com/kozaktomas/face-matcher/internal/extractor"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/library"
	"github.com/kozaktomas/face-matcher/internal/photoprism"
	"github.com/kozaktomas/face-matcher/internal/search"
)

// openEngine connects the configured store, image source and analyzer.
// The returned func releases all of them.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	source, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	origin := facematch.ParseOrigin(cfg.Analyzer.Origin)
	analyzer := extractor.NewHTTPAnalyzer(cfg.Analyzer.URL, cfg.Analyzer.Model, origin)
	ext := extractor.New(analyzer, extractorOptions(cfg.Tuning, origin))
	eng := engine.New(store, source, ext, engineOptions(cfg, origin))

	return eng, func() {
		if err := eng.Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		closeSource()
		store.Close()
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	if cfg.Database.URL != "" {
		store, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL store: %w", err)
		}
		return store, nil
	}
	store, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store: %w", err)
	}
	return store, nil
}

func openSource(ctx context.Context, cfg *config.Config) (library.Source, func(), error) {
	if cfg.Library.Root != "" {
		fs, err := library.NewFS(cfg.Library.Root, cfg.Library.Include, cfg.Library.Exclude)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
	if cfg.PhotoPrism.URL == "" {
		return nil, nil, errors.New("LIBRARY_ROOT or PHOTOPRISM_URL environment variable is required")
	}

	pp, err := photoprism.NewPhotoPrism(ctx, cfg.PhotoPrism.URL, cfg.PhotoPrism.Username, cfg.PhotoPrism.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PhotoPrism: %w", err)
	}
	return photoprism.NewSource(pp), func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pp.Logout(logoutCtx)
	}, nil
}

func extractorOptions(t config.TuningConfig, origin facematch.Origin) extractor.Options {
	return extractor.Options{
		Quality: facematch.QualityOptions{
			MinConfidence:    t.Quality.MinConfidence,
			MinRelativeSize:  t.Quality.MinRelativeSize,
			MinQuality:       t.Quality.MinQuality,
			MaxPoseDeviation: t.Quality.MaxPoseDeviation,
		},
		Origin:        origin,
		CropPadding:   t.Extractor.CropPadding,
		ThumbnailSize: t.Extractor.ThumbnailSize,
		Timeout:       time.Duration(t.Extractor.TimeoutSeconds) * time.Second,
	}
}

func engineOptions(cfg *config.Config, origin facematch.Origin) engine.Options {
	t := cfg.Tuning
	return engine.Options{
		ObservationThreshold: t.Matching.ObservationThreshold,
		CosineThreshold:      t.Matching.CosineThreshold,
		ExploratoryThreshold: t.Matching.ExploratoryThreshold,
		ExploratoryTopK:      t.Matching.ExploratoryTopK,
		Origin:               origin,
		ScanCap:              t.Search.ScanCap,
		Search: search.Options{
			BatchSize:      t.Search.BatchSize,
			InitialCeiling: t.Search.InitialCeiling,
			Concurrency:    t.Search.Concurrency,
			Continuation:   search.ParseContinuation(t.Search.Continuation),
			MaxImageSize:   t.Search.MaxImageSize,
		},
		HNSWIndexPath: cfg.Database.HNSWIndexPath,
	}
}

// photoRef renders an image id, as a terminal hyperlink when PhotoPrism
// links are configured.
func photoRef(cfg *config.Config, imageID string) string {
	if url := cfg.PhotoPrism.PhotoURL(imageID); url != "" && cfg.Library.Root == "" {
		return url
	}
	return imageID
}
