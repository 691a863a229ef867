package database

import (
	"slices"
	"strings"
)

// Filter selects embedding records. Zero fields do not constrain; all set
// fields must hold.
type Filter struct {
	ImageID            string
	ImageIDs           []string
	OwnerID            string
	Unassigned         bool
	VerifiedOnly       bool
	ExcludeImagePrefix string
}

func (f Filter) isEmpty() bool {
	return f.ImageID == "" && len(f.ImageIDs) == 0 && f.OwnerID == "" &&
		!f.Unassigned && !f.VerifiedOnly && f.ExcludeImagePrefix == ""
}

// Matches evaluates the filter in memory.
func (f Filter) Matches(r *EmbeddingRecord) bool {
	if f.ImageID != "" && r.ImageID != f.ImageID {
		return false
	}
	if len(f.ImageIDs) > 0 && !slices.Contains(f.ImageIDs, r.ImageID) {
		return false
	}
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.Unassigned && r.IsAssigned() {
		return false
	}
	if f.VerifiedOnly && !r.IsVerified {
		return false
	}
	if f.ExcludeImagePrefix != "" && strings.HasPrefix(r.ImageID, f.ExcludeImagePrefix) {
		return false
	}
	return true
}
