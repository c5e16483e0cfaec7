package domain

import (
	"slices"
	"time"
)

// DefaultConfidence is assumed for records that carry no confidence score.
const DefaultConfidence = 0.8

// Merge methods recorded in Metadata.MergeMethod.
const (
	// MergeMethodOracle marks a record synthesised by the merge oracle.
	MergeMethodOracle = "oracle"

	// MergeMethodExactDedup marks the survivor of an exact-duplicate group.
	MergeMethodExactDedup = "exact_dedup"

	// MergeMethodKeepFirst marks the first member kept after a failed merge.
	MergeMethodKeepFirst = "keep_first"
)

// Record is a single knowledge entry, typically a question (Key) and its
// answer (Value) extracted from one source.
//
// Records are treated as immutable. Operations that change a record return
// a copy; a merge produces a new record whose metadata lists the ids of the
// records it replaces.
type Record struct {
	// ID is the unique identifier for the record.
	ID string

	// Key is the lookup text, usually a question.
	Key string

	// Value is the content text, usually an answer.
	Value string

	// SourceID identifies the source the record was extracted from.
	SourceID string

	// CreatedAt is when the record was created. Reads are ordered by it.
	CreatedAt time.Time

	// Metadata holds category, keywords, confidence and merge lineage.
	Metadata Metadata
}

// Metadata contains open-ended record attributes.
type Metadata struct {
	// Category is a free-form classification label.
	Category string `json:"category,omitempty"`

	// Keywords is the keyword set used by the similarity heuristic.
	Keywords []string `json:"keywords,omitempty"`

	// Confidence is the extraction or merge confidence in [0,1].
	Confidence float64 `json:"confidence,omitempty"`

	// OriginalIDs lists the ids this record replaces (merge lineage).
	OriginalIDs []string `json:"original_ids,omitempty"`

	// MergeMethod records how the lineage was produced.
	MergeMethod string `json:"merge_method,omitempty"`

	// MergeNotes is an optional explanation returned by the merge oracle.
	MergeNotes string `json:"merge_notes,omitempty"`

	// MergedAt is when the lineage was produced.
	MergedAt *time.Time `json:"merged_at,omitempty"`

	// Extra holds any additional attributes supplied by producers.
	Extra map[string]any `json:"extra,omitempty"`
}

// EffectiveConfidence returns the confidence or DefaultConfidence when unset.
func (r Record) EffectiveConfidence() float64 {
	if r.Metadata.Confidence <= 0 {
		return DefaultConfidence
	}
	return r.Metadata.Confidence
}

// Lineage returns the ids this record replaces, or nil for an original record.
func (r Record) Lineage() []string {
	return r.Metadata.OriginalIDs
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	c.Metadata = r.Metadata.Clone()
	return c
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	c := m
	c.Keywords = slices.Clone(m.Keywords)
	c.OriginalIDs = slices.Clone(m.OriginalIDs)
	if m.MergedAt != nil {
		t := *m.MergedAt
		c.MergedAt = &t
	}
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// WithLineage returns a copy of the record whose lineage also lists ids.
// The record keeps its own id, which is never part of its lineage.
func (r Record) WithLineage(method string, at time.Time, ids ...string) Record {
	c := r.Clone()
	lineage := make([]string, 0, len(c.Metadata.OriginalIDs)+len(ids))
	lineage = appendUnique(lineage, c.Metadata.OriginalIDs...)
	for _, id := range ids {
		if id != r.ID {
			lineage = appendUnique(lineage, id)
		}
	}
	c.Metadata.OriginalIDs = lineage
	c.Metadata.MergeMethod = method
	c.Metadata.MergedAt = &at
	return c
}

// CoveredIDs returns every id represented by the record: its own id and
// its lineage.
func (r Record) CoveredIDs() []string {
	ids := make([]string, 0, len(r.Metadata.OriginalIDs)+1)
	ids = appendUnique(ids, r.ID)
	return appendUnique(ids, r.Metadata.OriginalIDs...)
}

// UnionCoveredIDs returns every id covered by records, in order.
func UnionCoveredIDs(records ...Record) []string {
	var ids []string
	for _, r := range records {
		ids = appendUnique(ids, r.CoveredIDs()...)
	}
	return ids
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id == "" || slices.Contains(dst, id) {
			continue
		}
		dst = append(dst, id)
	}
	return dst
}

// SortByCreatedAt orders records by creation time, keeping append order for ties.
func SortByCreatedAt(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
