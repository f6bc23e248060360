package pagequery

// Ellipsis marks a gap in a page window.
const Ellipsis = 0

const maxWindow = 5

// PageSummary is the table footer state derived from pagination metadata.
type PageSummary struct {
	Page       int
	PageSize   int
	Total      int
	TotalPages int
	StartRow   int // 1-based; 0 when there are no rows
	EndRow     int
	Window     []int // page numbers to offer, Ellipsis for gaps
	HasPrev    bool
	HasNext    bool
}

func summarize(page, pageSize int, p Pagination) PageSummary {
	s := PageSummary{
		Page:       page,
		PageSize:   pageSize,
		Total:      p.Total,
		TotalPages: p.TotalPages,
		Window:     PageWindow(page, p.TotalPages),
		HasPrev:    page > 1,
		HasNext:    page < p.TotalPages,
	}
	if p.Total > 0 {
		s.StartRow = (page-1)*pageSize + 1
		s.EndRow = min(page*pageSize, p.Total)
		if s.StartRow > p.Total {
			s.StartRow, s.EndRow = 0, 0
		}
	}
	return s
}

// PageWindow lists at most five page links around current, always keeping
// the first and last page:
//
//	PageWindow(1, 10)  => 1 2 3 … 10
//	PageWindow(5, 10)  => 1 … 5 … 10
//	PageWindow(10, 10) => 1 … 8 9 10
func PageWindow(current, total int) []int {
	if total <= 0 {
		return nil
	}
	out := make([]int, 0, maxWindow+2)
	if total <= maxWindow {
		for i := 1; i <= total; i++ {
			out = append(out, i)
		}
		return out
	}

	out = append(out, 1)
	switch {
	case current <= 2:
		for i := 2; i <= min(3, total-1); i++ {
			out = append(out, i)
		}
		out = append(out, Ellipsis)
	case current >= total-1:
		out = append(out, Ellipsis)
		for i := max(2, total-2); i <= total-1; i++ {
			out = append(out, i)
		}
	default:
		out = append(out, Ellipsis, current, Ellipsis)
	}
	return append(out, total)
}
