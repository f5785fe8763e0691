package reassembly

import "math/bits"

// RowBitmap records which rows of a frame have arrived.
type RowBitmap struct {
	words []uint64
	n     int
	set   int
}

func NewRowBitmap(rows int) *RowBitmap {
	return &RowBitmap{words: make([]uint64, (rows+63)/64), n: rows}
}

// Set marks rows [start, end). Rows outside the bitmap are ignored.
func (r *RowBitmap) Set(start, end int) {
	if start < 0 {
		start = 0
	}
	if end > r.n {
		end = r.n
	}
	for row := start; row < end; row++ {
		w, bit := row/64, uint64(1)<<(row%64)
		if r.words[w]&bit == 0 {
			r.words[w] |= bit
			r.set++
		}
	}
}

// has reports whether row arrived.
func (r *RowBitmap) has(row int) bool {
	if row < 0 || row >= r.n {
		return false
	}
	return r.words[row/64]&(uint64(1)<<(row%64)) != 0
}

func (r *RowBitmap) Complete() bool { return r.set == r.n }

// Missing returns the number of rows not yet seen.
func (r *RowBitmap) Missing() int { return r.n - r.set }

func (r *RowBitmap) Reset() {
	for i := range r.words {
		r.words[i] = 0
	}
	r.set = 0
}

// count recomputes the set bits; used by tests to cross-check set.
func (r *RowBitmap) count() int {
	n := 0
	for _, w := range r.words {
		n += bits.OnesCount64(w)
	}
	return n
}
