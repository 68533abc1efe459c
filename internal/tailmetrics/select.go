package tailmetrics

import "math"

// tailLess orders values for tail selection. NaN sorts below every real
// number so a partially-NaN vector keeps its real tail; an all-NaN vector
// still propagates NaN through the selected values.
func tailLess(a, b float64) bool {
	if math.IsNaN(a) {
		return !math.IsNaN(b)
	}
	if math.IsNaN(b) {
		return false
	}
	return a < b
}

// topK returns the k largest values of x in arbitrary order using an
// in-place quickselect over a copy. Full sorting is deliberately avoided;
// the selection runs in expected O(n).
func topK(x []float64, k int) []float64 {
	n := len(x)
	if k >= n {
		out := make([]float64, n)
		copy(out, x)
		return out
	}

	buf := make([]float64, n)
	copy(buf, x)

	// Partition buf so that buf[n-k:] holds the k largest values.
	lo, hi := 0, n-1
	target := n - k
	for lo < hi {
		p := partition(buf, lo, hi)
		switch {
		case p == target:
			lo = hi
		case p < target:
			lo = p + 1
		default:
			hi = p - 1
		}
	}

	out := make([]float64, k)
	copy(out, buf[n-k:])
	return out
}

// partition uses a median-of-three pivot and returns its final index.
func partition(buf []float64, lo, hi int) int {
	mid := lo + (hi-lo)/2
	if tailLess(buf[mid], buf[lo]) {
		buf[mid], buf[lo] = buf[lo], buf[mid]
	}
	if tailLess(buf[hi], buf[lo]) {
		buf[hi], buf[lo] = buf[lo], buf[hi]
	}
	if tailLess(buf[hi], buf[mid]) {
		buf[hi], buf[mid] = buf[mid], buf[hi]
	}
	pivot := buf[mid]
	buf[mid], buf[hi-1] = buf[hi-1], buf[mid]

	i := lo
	for j := lo; j < hi-1; j++ {
		if tailLess(buf[j], pivot) {
			buf[i], buf[j] = buf[j], buf[i]
			i++
		}
	}
	buf[i], buf[hi-1] = buf[hi-1], buf[i]
	return i
}

// minOf returns the smallest of vals under tail ordering.
func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if tailLess(v, m) {
			m = v
		}
	}
	return m
}

// maxOf returns the largest of vals under tail ordering.
func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if tailLess(m, v) {
			m = v
		}
	}
	return m
}
