package admin

import (
	"fmt"

	"github.com/guarzo/crisiscircle/common/model"
)

// maxPageButtons is how many page numbers a list shows at once.
const maxPageButtons = 5

// PageRange is the "Showing X to Y of Z" line under a list.
type PageRange struct {
	From  int `json:"from"`
	To    int `json:"to"`
	Total int `json:"total"`
}

func (r PageRange) String() string {
	return fmt.Sprintf("Showing %d to %d of %d", r.From, r.To, r.Total)
}

// ShowingRange computes the visible item range for page p at limit items per page.
func ShowingRange(p model.Pagination, limit int) PageRange {
	return PageRange{
		From:  (p.CurrentPage-1)*limit + 1,
		To:    min(p.CurrentPage*limit, p.TotalItems),
		Total: p.TotalItems,
	}
}

// HasPages reports whether page controls are worth showing.
func HasPages(p model.Pagination) bool {
	return p.TotalPages > 1
}

// PageWindow returns at most five page numbers starting two before current.
// Numbers past totalPages are dropped, so the window shrinks near the end.
func PageWindow(current, totalPages int) []int {
	n := min(maxPageButtons, totalPages)
	pages := make([]int, 0, max(n, 0))
	for i := 0; i < n; i++ {
		page := i + 1
		if totalPages > maxPageButtons {
			page = max(1, current-2) + i
		}
		if page <= totalPages {
			pages = append(pages, page)
		}
	}
	return pages
}
