package miner

// Partition splits ids into n contiguous shards of len(ids)/n ids, the last
// shard taking the remainder. Fewer ids than shards yields a single shard.
// Relative order is preserved inside every shard.
func Partition(ids []string, n int) [][]string {
	if len(ids) == 0 {
		return nil
	}

	n = max(n, 1)

	size := len(ids) / n
	if size == 0 {
		return [][]string{ids}
	}

	shards := make([][]string, 0, n)

	for k := range n {
		start := k * size

		end := start + size
		if k == n-1 {
			end = len(ids)
		}

		shards = append(shards, ids[start:end])
	}

	return shards
}
