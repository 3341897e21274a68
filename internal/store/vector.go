package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"autolearn/internal/logging"
)

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// vectorIndex is a flat, append-only matrix of passage vectors. Rows are in
// insertion order, which is also ascending passage id order.
type vectorIndex struct {
	dims   int
	ids    []int64
	docIDs []int64
	data   []float32
}

func (ix *vectorIndex) len() int { return len(ix.ids) }

func (ix *vectorIndex) add(id, docID int64, v []float32) {
	ix.ids = append(ix.ids, id)
	ix.docIDs = append(ix.docIDs, docID)
	ix.data = append(ix.data, v...)
}

func (ix *vectorIndex) row(i int) []float32 {
	return ix.data[i*ix.dims : (i+1)*ix.dims]
}

type scored struct {
	pos        int
	similarity float64
}

// topK returns the k rows with highest dot product against q, ordered by
// similarity descending and then by lower passage id.
func (ix *vectorIndex) topK(q []float32, k int) []scored {
	n := ix.len()
	if n == 0 || k <= 0 {
		return nil
	}
	all := make([]scored, n)
	for i := 0; i < n; i++ {
		row := ix.row(i)
		var dot float64
		for j := range q {
			dot += float64(q[j]) * float64(row[j])
		}
		all[i] = scored{pos: i, similarity: dot}
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].similarity != all[b].similarity {
			return all[a].similarity > all[b].similarity
		}
		return ix.ids[all[a].pos] < ix.ids[all[b].pos]
	})
	if k < n {
		all = all[:k]
	}
	return all
}

func loadIndex(ctx context.Context, db *sql.DB, dims int) (*vectorIndex, error) {
	timer := logging.StartTimer(logging.CategoryStore, "loadIndex")
	defer timer.Stop()

	ix := &vectorIndex{dims: dims}
	rows, err := db.QueryContext(ctx, `SELECT id, document_id, dim, vector FROM passages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, docID int64
		var dim int
		var blob []byte
		if err := rows.Scan(&id, &docID, &dim, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("passage %d: %w", id, err)
		}
		if len(v) != dim || (dims > 0 && dim != dims) {
			return nil, fmt.Errorf("passage %d: stored dimension %d does not match %d", id, len(v), dims)
		}
		if ix.dims == 0 {
			ix.dims = dim
		}
		ix.add(id, docID, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vectors: %w", err)
	}
	return ix, nil
}
