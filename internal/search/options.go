package search

import "github.com/kozaktomas/face-matcher/internal/constants"

// Continuation decides what happens to images beyond the initial ceiling.
type Continuation string

const (
	// ContinuationBackground processes them after the search returned.
	ContinuationBackground Continuation = "background"
	// ContinuationOff leaves them for the next explicit search.
	ContinuationOff Continuation = "off"
)

// ParseContinuation maps "off" to ContinuationOff and anything else to ContinuationBackground.
func ParseContinuation(s string) Continuation {
	if s == string(ContinuationOff) {
		return ContinuationOff
	}
	return ContinuationBackground
}

type Options struct {
	BatchSize      int // images per batch
	InitialCeiling int // images extracted before the search returns
	Concurrency    int // parallel extractions within a batch
	Continuation   Continuation
	MaxImageSize   int // longest side of loaded images
}

func DefaultOptions() Options {
	return Options{
		BatchSize:      constants.DefaultBatchSize,
		InitialCeiling: constants.DefaultInitialCeiling,
		Concurrency:    constants.DefaultConcurrency,
		Continuation:   ContinuationBackground,
		MaxImageSize:   constants.MaxImageSize,
	}
}

// normalized fills zero values with defaults and caps the concurrency.
func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.InitialCeiling <= 0 {
		o.InitialCeiling = d.InitialCeiling
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	o.Concurrency = min(o.Concurrency, constants.MaxConcurrency)
	if o.Continuation != ContinuationOff {
		o.Continuation = ContinuationBackground
	}
	if o.MaxImageSize < 0 {
		o.MaxImageSize = 0
	}
	return o
}

// Phase names the stage a progress report belongs to.
type Phase string

const (
	PhaseExtract      Phase = "extract"
	PhaseMatch        Phase = "match"
	PhaseContinuation Phase = "continuation"
)

// Progress is reported after every batch.
type Progress struct {
	Phase     Phase `json:"phase"`
	Processed int   `json:"processed"`
	Total     int   `json:"total"`
	Matched   int   `json:"matched"`
}

// ProgressFunc receives progress reports. It is called from the goroutine
// running the search, including background continuations.
type ProgressFunc func(Progress)
