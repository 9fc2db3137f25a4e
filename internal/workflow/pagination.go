package workflow

// MaxPageSize caps every listing.
const MaxPageSize = 100

// PageSize resolves the size a listing actually runs with. A non-positive
// request takes fallback, and the result never exceeds MaxPageSize.
func PageSize(requested, fallback int) int {
	size := requested
	if size <= 0 {
		size = fallback
	}
	if size <= 0 {
		return 1
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// TotalPages is max(1, ceil(totalCount/pageSize)). A non-positive page size
// yields a single page.
func TotalPages(totalCount, pageSize int) int {
	if pageSize <= 0 || totalCount <= 0 {
		return 1
	}
	pages := (totalCount + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// Offset converts a 1-indexed page into a row offset.
func Offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
