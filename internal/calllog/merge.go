package calllog

// Merge folds incoming into existing.
//
// Rules:
// - non-empty incoming scalars overwrite
// - Metadata and DynamicVariables are shallow-merged, incoming keys win
// - EndedAt is set once and never cleared
// - once ended, a status from an event without an end time is ignored
func Merge(existing, incoming Entry) Entry {
	out := existing

	if incoming.UserID != "" {
		out.UserID = incoming.UserID
	}
	if incoming.LeadID != "" {
		out.LeadID = incoming.LeadID
	}
	if incoming.Status != "" && (existing.EndedAt == nil || incoming.EndedAt != nil) {
		out.Status = incoming.Status
	}
	if incoming.StartedAt != nil {
		out.StartedAt = incoming.StartedAt
	}
	if existing.EndedAt == nil && incoming.EndedAt != nil {
		out.EndedAt = incoming.EndedAt
	}
	if incoming.DurationSeconds != nil {
		out.DurationSeconds = incoming.DurationSeconds
	}
	if incoming.Cost != nil {
		out.Cost = incoming.Cost
	}
	if len(incoming.Transcript) > 0 {
		out.Transcript = incoming.Transcript
	}
	if len(incoming.Analysis) > 0 {
		out.Analysis = incoming.Analysis
	}
	out.Metadata = mergeMaps(existing.Metadata, incoming.Metadata, true)
	out.DynamicVariables = mergeMaps(existing.DynamicVariables, incoming.DynamicVariables, true)
	if !incoming.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.UpdatedAt
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	return out
}

// fillGaps adds only keys missing from existing maps.
func fillGaps(existing, incoming Entry) Entry {
	out := existing
	out.Metadata = mergeMaps(existing.Metadata, incoming.Metadata, false)
	out.DynamicVariables = mergeMaps(existing.DynamicVariables, incoming.DynamicVariables, false)
	return out
}

func mergeMaps(base, in map[string]any, overwrite bool) map[string]any {
	if len(base) == 0 && len(in) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(in))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range in {
		if _, ok := out[k]; ok && !overwrite {
			continue
		}
		out[k] = v
	}
	return out
}
