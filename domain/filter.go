package domain

import "strings"

// StatusAll matches every status in a Filter.
const StatusAll Status = "all"

// Filter narrows a collection the way the list view does.
type Filter struct {
	Category Category
	Status   Status
	Query    string
}

// Apply returns the records matching every non-empty criterion, in collection order.
func (f Filter) Apply(c Collection) Collection {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make(Collection, 0, len(c))
	for _, t := range c {
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.Status != "" && f.Status != StatusAll && t.Status != f.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Text), query) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}
