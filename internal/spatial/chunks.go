package spatial

import (
	"sort"

	"github.com/mmcloughlin/geohash"

	"dvfcli/internal/records"
)

// Chunk is a bounded batch of transaction indices from a single department.
type Chunk struct {
	Department string
	Indices    []int
}

// PlanChunks splits txs by department, then into runs of at most size points in
// geohash order so that each run covers a compact area.
func PlanChunks(txs []records.NormalizedTransaction, size int, precision uint) []Chunk {
	if size <= 0 {
		size = len(txs)
	}
	byDept := make(map[string][]int)
	for i, tx := range txs {
		byDept[tx.DepartmentCode] = append(byDept[tx.DepartmentCode], i)
	}
	depts := make([]string, 0, len(byDept))
	for d := range byDept {
		depts = append(depts, d)
	}
	sort.Strings(depts)

	var chunks []Chunk
	for _, d := range depts {
		idx := byDept[d]
		if len(idx) > size {
			hashes := make(map[int]string, len(idx))
			for _, i := range idx {
				hashes[i] = geohash.EncodeWithPrecision(txs[i].Latitude, txs[i].Longitude, precision)
			}
			sort.SliceStable(idx, func(a, b int) bool { return hashes[idx[a]] < hashes[idx[b]] })
		}
		for start := 0; start < len(idx); start += size {
			end := start + size
			if end > len(idx) {
				end = len(idx)
			}
			chunks = append(chunks, Chunk{Department: d, Indices: idx[start:end]})
		}
	}
	return chunks
}
