package models

// Page carries optional skip/limit bounds. A zero value for either field
// means the bound was not provided.
type Page struct {
	Skip  int `json:"skip,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Unbounded is the zero Page.
var Unbounded = Page{}

// Validate rejects negative bounds.
func (p Page) Validate() error {
	if p.Skip < 0 || p.Limit < 0 {
		return NewInvalidOperationError("skip and limit must not be negative")
	}
	return nil
}

// Window returns the [start, end) indexes of p over a collection of n
// items.
func (p Page) Window(n int) (int, int) {
	start := min(max(p.Skip, 0), n)
	end := n
	if p.Limit > 0 {
		end = min(start+p.Limit, n)
	}
	return start, end
}

// Apply slices items according to p.
func Apply[T any](items []T, p Page) []T {
	start, end := p.Window(len(items))
	return items[start:end]
}
