package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	PhotoPrism PhotoPrismConfig
	Library    LibraryConfig
	Analyzer   AnalyzerConfig
	Database   DatabaseConfig
	Web        WebConfig
	Tuning     TuningConfig
}

type PhotoPrismConfig struct {
	URL      string
	Username string
	Password string
	Domain   string // public domain for generating photo links (e.g., https://photos.example.com)
}

// PhotoURL returns an OSC 8 hyperlink for terminal emulators (iTerm2, etc.)
// Displays the UID but makes it clickable to open the photo in PhotoPrism
// Returns empty string if Domain is not set
func (c *PhotoPrismConfig) PhotoURL(uid string) string {
	if c.Domain == "" {
		return ""
	}
	url := c.Domain + "/library/browse?view=cards&order=oldest&q=uid:" + uid
	return "\x1b]8;;" + url + "\x1b\\" + uid + "\x1b]8;;\x1b\\"
}

// LibraryConfig points at a local photo directory used when PhotoPrism is not configured.
type LibraryConfig struct {
	Root    string
	Include []string // doublestar patterns, relative to Root
	Exclude []string
}

type AnalyzerConfig struct {
	URL    string // face analysis service, defaults to http://localhost:8000
	Model  string // model name recorded with every stored face
	Origin string // bounding box origin: bottom-left (default) or top-left
}

type WebConfig struct {
	AllowedOrigins []string // browser origins besides localhost allowed to call the API
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	SQLitePath    string // used when URL is empty
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the face HNSW index (optional)
}

// TuningConfig holds the matching thresholds and search limits. Defaults come
// from the embedded defaults.yaml.
type TuningConfig struct {
	Matching  MatchingConfig  `yaml:"matching"`
	Quality   QualityConfig   `yaml:"quality"`
	Search    SearchConfig    `yaml:"search"`
	Extractor ExtractorConfig `yaml:"extractor"`
}

type MatchingConfig struct {
	ObservationThreshold float64 `yaml:"observation_threshold"`
	CosineThreshold      float64 `yaml:"cosine_threshold"`
	ExploratoryThreshold float64 `yaml:"exploratory_threshold"`
	ExploratoryTopK      int     `yaml:"exploratory_top_k"`
}

type QualityConfig struct {
	MinConfidence    float64 `yaml:"min_confidence"`
	MinRelativeSize  float64 `yaml:"min_relative_size"`
	MinQuality       float64 `yaml:"min_quality"`
	MaxPoseDeviation float64 `yaml:"max_pose_deviation"`
}

type SearchConfig struct {
	BatchSize      int    `yaml:"batch_size"`
	InitialCeiling int    `yaml:"initial_ceiling"`
	Concurrency    int    `yaml:"concurrency"`
	Continuation   string `yaml:"continuation"`
	ScanCap        int    `yaml:"scan_cap"`
	MaxImageSize   int    `yaml:"max_image_size"`
}

type ExtractorConfig struct {
	CropPadding    float64 `yaml:"crop_padding"`
	ThumbnailSize  int     `yaml:"thumbnail_size"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for non-negative floats.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for p := range strings.SplitSeq(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Defaults returns the tuning values from the embedded defaults.yaml.
func Defaults() TuningConfig {
	var t TuningConfig
	if err := yaml.Unmarshal(defaultsYAML, &t); err != nil {
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return t
}

func Load() *Config {
	t := Defaults()

	t.Matching.ObservationThreshold = envFloat("MATCH_OBSERVATION_THRESHOLD", t.Matching.ObservationThreshold)
	t.Matching.CosineThreshold = envFloat("MATCH_COSINE_THRESHOLD", t.Matching.CosineThreshold)
	t.Matching.ExploratoryThreshold = envFloat("MATCH_EXPLORATORY_THRESHOLD", t.Matching.ExploratoryThreshold)
	t.Matching.ExploratoryTopK = envInt("MATCH_EXPLORATORY_TOP_K", t.Matching.ExploratoryTopK)

	t.Quality.MinConfidence = envFloat("QUALITY_MIN_CONFIDENCE", t.Quality.MinConfidence)
	t.Quality.MinRelativeSize = envFloat("QUALITY_MIN_RELATIVE_SIZE", t.Quality.MinRelativeSize)
	t.Quality.MinQuality = envFloat("QUALITY_MIN_QUALITY", t.Quality.MinQuality)
	t.Quality.MaxPoseDeviation = envFloat("QUALITY_MAX_POSE_DEVIATION", t.Quality.MaxPoseDeviation)

	t.Search.BatchSize = envInt("SEARCH_BATCH_SIZE", t.Search.BatchSize)
	t.Search.InitialCeiling = envInt("SEARCH_INITIAL_CEILING", t.Search.InitialCeiling)
	t.Search.Concurrency = envInt("SEARCH_CONCURRENCY", t.Search.Concurrency)
	t.Search.Continuation = envString("SEARCH_CONTINUATION", t.Search.Continuation)
	t.Search.ScanCap = envInt("SEARCH_SCAN_CAP", t.Search.ScanCap)
	t.Search.MaxImageSize = envInt("SEARCH_MAX_IMAGE_SIZE", t.Search.MaxImageSize)

	t.Extractor.CropPadding = envFloat("EXTRACTOR_CROP_PADDING", t.Extractor.CropPadding)
	t.Extractor.ThumbnailSize = envInt("EXTRACTOR_THUMBNAIL_SIZE", t.Extractor.ThumbnailSize)
	t.Extractor.TimeoutSeconds = envInt("EXTRACTOR_TIMEOUT_SECONDS", t.Extractor.TimeoutSeconds)

	return &Config{
		PhotoPrism: PhotoPrismConfig{
			URL:      os.Getenv("PHOTOPRISM_URL"),
			Username: os.Getenv("PHOTOPRISM_USERNAME"),
			Password: os.Getenv("PHOTOPRISM_PASSWORD"),
			Domain:   os.Getenv("PHOTOPRISM_DOMAIN"),
		},
		Library: LibraryConfig{
			Root:    os.Getenv("LIBRARY_ROOT"),
			Include: envList("LIBRARY_INCLUDE"),
			Exclude: envList("LIBRARY_EXCLUDE"),
		},
		Analyzer: AnalyzerConfig{
			URL:    envString("ANALYZER_URL", "http://localhost:8000"),
			Model:  os.Getenv("ANALYZER_MODEL"),
			Origin: envString("BBOX_ORIGIN", "bottom-left"),
		},
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			SQLitePath:    envString("SQLITE_PATH", "face-matcher.db"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Tuning: t,
	}
}
