// Package pagination turns a total row count and a requested page into the
// limit/offset window a store query needs.
package pagination

// DefaultPerPage is used when the caller passes a non-positive page size.
const DefaultPerPage = 30

// MaxPerPage caps the page size.
const MaxPerPage = 200

// Page describes one window over an ordered result set.
type Page struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
	Limit      int `json:"-"`
	Offset     int `json:"-"`
}

// Paginate computes the window for the given page. Pages are 1-based and
// clamped into [1, TotalPages]; an empty result set still has one page.
func Paginate(total, perPage, page int) Page {
	perPage = ClampPerPage(perPage)
	if total < 0 {
		total = 0
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	return Page{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
}

// ClampPerPage applies DefaultPerPage and MaxPerPage.
func ClampPerPage(perPage int) int {
	if perPage <= 0 {
		return DefaultPerPage
	}
	if perPage > MaxPerPage {
		return MaxPerPage
	}
	return perPage
}

// HasNext reports whether a page follows this one.
func (p Page) HasNext() bool { return p.Page < p.TotalPages }

// HasPrev reports whether a page precedes this one.
func (p Page) HasPrev() bool { return p.Page > 1 }

// Window returns the [start, end) bounds of this page over a slice of length n.
// n may differ from Total when the store drifted between the count and the
// fetch; the bounds are clamped so slicing never panics.
func (p Page) Window(n int) (start, end int) {
	start = p.Offset
	if start > n {
		start = n
	}
	end = start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}
