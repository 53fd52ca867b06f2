// Package partition splits work into bounded batches.
package partition

// Chunk splits items into consecutive slices of at most size elements.
// The result has ceil(len(items)/size) batches; a size below 1 yields a
// single batch holding everything.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = len(items)
	}

	batches := make([][]T, 0, BatchCount(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// BatchCount returns ceil(n/size).
func BatchCount(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size < 1 {
		return 1
	}
	return (n + size - 1) / size
}
