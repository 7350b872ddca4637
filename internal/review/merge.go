package review

import "slices"

// MaxImprovements caps the improvement list after a merge.
const MaxImprovements = 10

// MergeImprovements folds reviewer findings into improvements and returns
// the new list; the input slice is not modified.
//
// Critical then high findings are each inserted at the front, so the last
// one processed ends up first. Medium findings are appended. Empty and
// already-present descriptions are skipped, other severities ignored.
func MergeImprovements(improvements []string, r *Result) []string {
	merged := slices.Clone(improvements)
	if r == nil {
		return capImprovements(merged)
	}

	var urgent, medium []Finding
	for _, sev := range []Severity{SeverityCritical, SeverityHigh} {
		for _, f := range r.IssuesFound {
			if f.Severity == sev {
				urgent = append(urgent, f)
			}
		}
	}
	for _, f := range r.IssuesFound {
		if f.Severity == SeverityMedium {
			medium = append(medium, f)
		}
	}

	for _, f := range urgent {
		if f.Description != "" && !slices.Contains(merged, f.Description) {
			merged = slices.Insert(merged, 0, f.Description)
		}
	}
	for _, f := range medium {
		if f.Description != "" && !slices.Contains(merged, f.Description) {
			merged = append(merged, f.Description)
		}
	}
	return capImprovements(merged)
}

func capImprovements(list []string) []string {
	if len(list) > MaxImprovements {
		return list[:MaxImprovements]
	}
	return list
}
