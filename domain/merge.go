package domain

// Merge reconciles a local snapshot with a remote one using whole-record
// last-write-wins. Remote is the default winner; a local record replaces its
// remote counterpart only when its modification time is strictly later.
// Local-only records are kept. The result is sorted by order, then id.
//
// Devices whose clocks disagree can pick the wrong winner; there is no
// field-level merge.
func Merge(local, remote Collection) Collection {
	byID := make(map[string]Task, len(remote)+len(local))
	ids := make([]string, 0, len(remote)+len(local))

	for _, r := range remote {
		if _, ok := byID[r.ID]; !ok {
			ids = append(ids, r.ID)
		}
		byID[r.ID] = r.Clone()
	}

	for _, l := range local {
		r, ok := byID[l.ID]
		if !ok {
			ids = append(ids, l.ID)
			byID[l.ID] = l.Clone()
			continue
		}
		if l.EffectiveTime().After(r.EffectiveTime()) {
			byID[l.ID] = l.Clone()
		}
	}

	out := make(Collection, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	out.Sort()
	return out
}
