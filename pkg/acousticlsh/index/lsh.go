// Package index implements approximate nearest-neighbour search over
// signature windows using random-hyperplane locality-sensitive hashing.
//
// An Index is built once over the whole corpus and is immutable afterwards,
// so any number of goroutines may query it. New material means a new Build.
package index

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

var (
	ErrEmptyCorpus      = errors.New("index: empty corpus")
	ErrNotBuilt         = errors.New("index: not built")
	ErrInvalidDimension = errors.New("index: invalid vector dimension")
	ErrInvalidK         = errors.New("index: k must be positive")
)

// Neighbor is one query result. Distance is Euclidean.
type Neighbor struct {
	ID       int64
	Distance float64
}

// projectChunk bounds the rows widened to float64 at once during Build.
const projectChunk = 512

type Index struct {
	opts     Options
	dim      int
	ids      []int64
	rows     [][]float32 // corpus vectors minus centroid
	centroid []float64
	planes   *mat.Dense // (Tables*Bits) x dim
	tables   []map[uint64][]int32
}

// Build indexes entries. All vectors must share one dimension.
func Build(entries []models.SignatureEntry, opts ...Option) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o = o.resolve(len(entries))

	dim := len(entries[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("%w: entry %d has no components", ErrInvalidDimension, entries[0].ID)
	}

	n := len(entries)
	ids := make([]int64, n)
	centroid := make([]float64, dim)
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: entry %d has %d components, want %d", ErrInvalidDimension, e.ID, len(e.Vector), dim)
		}
		ids[i] = e.ID
		for j, v := range e.Vector {
			centroid[j] += float64(v)
		}
	}
	floats.Scale(1/float64(n), centroid)

	// Rows stay float32; only one chunk at a time is widened for projection.
	flat := make([]float32, n*dim)
	rows := make([][]float32, n)
	for i, e := range entries {
		row := flat[i*dim : (i+1)*dim : (i+1)*dim]
		for j, v := range e.Vector {
			row[j] = float32(float64(v) - centroid[j])
		}
		rows[i] = row
	}

	planes := randomPlanes(o.Tables*o.Bits, dim, o.Seed)
	proj := mat.NewDense(n, o.Tables*o.Bits, nil)
	buf := make([]float64, min(n, projectChunk)*dim)
	for lo := 0; lo < n; lo += projectChunk {
		hi := min(lo+projectChunk, n)
		chunk := buf[:(hi-lo)*dim]
		for j, v := range flat[lo*dim : hi*dim] {
			chunk[j] = float64(v)
		}
		dst := proj.Slice(lo, hi, 0, o.Tables*o.Bits).(*mat.Dense)
		dst.Mul(mat.NewDense(hi-lo, dim, chunk), planes.T())
	}

	tables := make([]map[uint64][]int32, o.Tables)
	for t := range tables {
		tables[t] = make(map[uint64][]int32)
	}
	projRow := make([]float64, o.Tables*o.Bits)
	for i := 0; i < n; i++ {
		mat.Row(projRow, i, proj)
		for t := range tables {
			key := bucketKey(projRow[t*o.Bits : (t+1)*o.Bits])
			tables[t][key] = append(tables[t][key], int32(i))
		}
	}

	return &Index{
		opts:     o,
		dim:      dim,
		ids:      ids,
		rows:     rows,
		centroid: centroid,
		planes:   planes,
		tables:   tables,
	}, nil
}

func randomPlanes(count, dim int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
	data := make([]float64, count*dim)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(count, dim, data)
}

// bucketKey packs the projection signs into an integer key.
func bucketKey(projections []float64) uint64 {
	var key uint64
	for b, p := range projections {
		if p > 0 {
			key |= 1 << uint(b)
		}
	}
	return key
}

// Query returns up to k entry ids, nearest first.
func (ix *Index) Query(vector []float32, k int) ([]int64, error) {
	neighbors, err := ix.Search(vector, k)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(neighbors))
	for i, nb := range neighbors {
		ids[i] = nb.ID
	}
	return ids, nil
}

// Search is Query with the Euclidean distance of every neighbour.
//
// Candidates come from the query's bucket in every table plus the buckets
// reached by flipping the Probes least certain bits. If that yields fewer
// than k candidates the whole corpus is scanned, so imperfect recall never
// shortens a result below min(k, Len()).
func (ix *Index) Search(vector []float32, k int) ([]Neighbor, error) {
	if ix == nil || ix.planes == nil {
		return nil, ErrNotBuilt
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(vector) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(vector), ix.dim)
	}

	q := make([]float64, ix.dim)
	for i, v := range vector {
		q[i] = float64(v)
	}
	floats.Sub(q, ix.centroid)

	candidates := ix.candidates(q)
	if len(candidates) < k {
		candidates = make([]int32, len(ix.rows))
		for i := range candidates {
			candidates[i] = int32(i)
		}
	}

	neighbors := make([]Neighbor, len(candidates))
	for i, c := range candidates {
		neighbors[i] = Neighbor{ID: ix.ids[c], Distance: distance(q, ix.rows[c])}
	}
	slices.SortFunc(neighbors, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func distance(q []float64, row []float32) float64 {
	var sum float64
	for i, v := range row {
		d := q[i] - float64(v)
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (ix *Index) candidates(q []float64) []int32 {
	bits := ix.opts.Bits
	var proj mat.VecDense
	proj.MulVec(ix.planes, mat.NewVecDense(ix.dim, q))
	raw := proj.RawVector().Data

	seen := make(map[int32]struct{})
	out := make([]int32, 0, 64)
	collect := func(bucket []int32) {
		for _, r := range bucket {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				out = append(out, r)
			}
		}
	}

	order := make([]int, bits)
	for t, table := range ix.tables {
		margins := raw[t*bits : (t+1)*bits]
		key := bucketKey(margins)
		collect(table[key])

		if ix.opts.Probes == 0 {
			continue
		}
		for b := range order {
			order[b] = b
		}
		slices.SortFunc(order, func(a, b int) int {
			return cmp.Compare(math.Abs(margins[a]), math.Abs(margins[b]))
		})
		for _, b := range order[:ix.opts.Probes] {
			collect(table[key^(1<<uint(b))])
		}
	}
	return out
}

// Len is the number of indexed entries.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.ids)
}

// Dim is the vector dimension the index accepts.
func (ix *Index) Dim() int {
	if ix == nil {
		return 0
	}
	return ix.dim
}

// Options reports the resolved build options.
func (ix *Index) Options() Options {
	if ix == nil {
		return Options{}
	}
	return ix.opts
}

// Centroid returns a copy of the mean vector subtracted before hashing.
func (ix *Index) Centroid() []float64 {
	if ix == nil {
		return nil
	}
	return slices.Clone(ix.centroid)
}
