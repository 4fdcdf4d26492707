package flipbook

// Paginate reverses frames and splits them into pages of perPage. The
// flipbook is read from the end of the clip backwards, so the last frame
// lands first. The last page may be short.
func Paginate[T any](frames []T, perPage int) [][]T {
	if perPage <= 0 {
		perPage = 1
	}
	reversed := make([]T, len(frames))
	for i, f := range frames {
		reversed[len(frames)-1-i] = f
	}

	pages := make([][]T, 0, (len(frames)+perPage-1)/perPage)
	for start := 0; start < len(reversed); start += perPage {
		end := min(start+perPage, len(reversed))
		pages = append(pages, reversed[start:end])
	}
	return pages
}
