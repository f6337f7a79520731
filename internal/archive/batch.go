package archive

// Partition splits ids into ceil(len/limit) batches of at most limit ids,
// front to back. Every id lands in exactly one batch.
func Partition(ids []int, limit int) [][]int {
	if len(ids) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = len(ids)
	}
	batches := make([][]int, 0, (len(ids)+limit-1)/limit)
	for start := 0; start < len(ids); start += limit {
		end := min(start+limit, len(ids))
		batches = append(batches, append([]int(nil), ids[start:end]...))
	}
	return batches
}
