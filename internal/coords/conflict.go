package coords

// DefaultConflictThreshold flags placements overlapping more than 20% of the
// smaller field.
const DefaultConflictThreshold = 0.20

// Placed is a rect on a specific page, identified for conflict reporting.
type Placed struct {
	ID   string
	Page int
	Rect Rect
}

// Conflict reports which existing placements overlap a candidate.
type Conflict struct {
	HasConflict     bool     `json:"hasConflict"`
	ConflictingWith []string `json:"conflictingWith,omitempty"`
}

// DetectConflict compares candidate against every existing placement on the
// same page. A threshold <= 0 falls back to DefaultConflictThreshold. The
// result is advisory; callers decide whether to block the placement.
func DetectConflict(candidate Placed, existing []Placed, threshold float64) Conflict {
	if threshold <= 0 {
		threshold = DefaultConflictThreshold
	}
	var out Conflict
	for _, e := range existing {
		if e.Page != candidate.Page || (e.ID != "" && e.ID == candidate.ID) {
			continue
		}
		if OverlapRatio(candidate.Rect, e.Rect) > threshold {
			out.ConflictingWith = append(out.ConflictingWith, e.ID)
		}
	}
	out.HasConflict = len(out.ConflictingWith) > 0
	return out
}
