package dsp

// Waterfall is a bounded history of spectrum rows, newest first. Rows are
// stored by reference; callers hand over ownership on Push and must treat
// rows returned by Rows as read-only.
type Waterfall struct {
	rows  [][]float64
	head  int // index of the newest row
	count int
}

// NewWaterfall returns an empty history holding at most height rows.
func NewWaterfall(height int) *Waterfall {
	if height < 1 {
		height = 1
	}
	return &Waterfall{rows: make([][]float64, height), head: height - 1}
}

// Cap returns the maximum number of rows.
func (w *Waterfall) Cap() int { return len(w.rows) }

// Len returns the number of rows held.
func (w *Waterfall) Len() int { return w.count }

// Push inserts row as the newest entry, evicting the oldest when full.
func (w *Waterfall) Push(row []float64) {
	w.head = (w.head + 1) % len(w.rows)
	w.rows[w.head] = row
	if w.count < len(w.rows) {
		w.count++
	}
}

// Rows appends the rows to dst, newest first.
func (w *Waterfall) Rows(dst [][]float64) [][]float64 {
	for i := range w.count {
		idx := (w.head - i + len(w.rows)) % len(w.rows)
		dst = append(dst, w.rows[idx])
	}
	return dst
}
