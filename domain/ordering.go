package domain

// Reorder moves one record inside the subsequence sharing category and status,
// then rewrites the sort keys of that subsequence from a single base tick.
// Records outside the subsequence are returned untouched. The input collection
// is never modified.
func Reorder(c Collection, category Category, status Status, from, to int, tick int64) (Collection, error) {
	var (
		target []Task
		others []Task
	)
	for _, t := range c {
		if t.Category == category && t.Status == status {
			target = append(target, t.Clone())
			continue
		}
		others = append(others, t.Clone())
	}

	n := len(target)
	if from < 0 || from >= n || to < 0 || to >= n {
		return c, ErrIndexOutOfRange
	}

	moved := target[from]
	target = append(target[:from], target[from+1:]...)
	target = append(target[:to], append([]Task{moved}, target[to:]...)...)

	// The base must sit above every existing key, even when the clock has not
	// advanced since the previous write.
	base := tick
	if max := c.MaxOrder(); base <= max {
		base = max + 1
	}
	for i := range target {
		target[i].Order = base + int64(i)
	}

	out := make(Collection, 0, len(c))
	out = append(out, others...)
	out = append(out, target...)
	out.Sort()
	return out, nil
}

// Subsequence returns the records matching category and status in collection order.
func Subsequence(c Collection, category Category, status Status) Collection {
	var out Collection
	for _, t := range c {
		if t.Category == category && t.Status == status {
			out = append(out, t)
		}
	}
	return out
}
