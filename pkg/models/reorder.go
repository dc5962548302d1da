package models

// ReorderIDs returns current rearranged so that the ids of explicit that
// appear in current come first, in explicit order, followed by the rest of
// current in its previous relative order. Duplicates and unknown ids in
// explicit are ignored, so a truncated list never loses jobs.
func ReorderIDs(current, explicit []string) []string {
	known := make(map[string]struct{}, len(current))
	for _, id := range current {
		known[id] = struct{}{}
	}

	out := make([]string, 0, len(current))
	placed := make(map[string]struct{}, len(explicit))
	for _, id := range explicit {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := placed[id]; dup {
			continue
		}
		placed[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range current {
		if _, ok := placed[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
