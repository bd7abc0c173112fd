package signature

// localMaxima returns the indices of samples strictly greater than both
// immediate neighbours. The first and last samples never qualify.
func localMaxima(x []float64) []int {
	if len(x) < 3 {
		return nil
	}
	out := make([]int, 0, len(x)/3)
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] > x[i+1] {
			out = append(out, i)
		}
	}
	return out
}

// selectPeakPositions picks the positions whose amplitudes become the window
// signature. It ranks the maxima by their index, not by amplitude: since
// maxima arrive in ascending index order the ranking is the ordinal
// sequence 0..len(maxima)-1, and the last n ordinals are returned in
// descending order. Stored signatures and rejection thresholds depend on
// this exact rule; change it only together with a full re-ingestion.
func selectPeakPositions(maxima []int, n int) []int {
	m := len(maxima)
	if n > m {
		n = m
	}
	out := make([]int, n)
	for i := range out {
		out[i] = m - 1 - i
	}
	return out
}

// normalise min-max scales values into [0,1] and right-pads with zeros to
// size. A flat input (max == min) yields all zeros.
func normalise(values []float64, size int) []float32 {
	out := make([]float32, size)
	if len(values) == 0 {
		return out
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		return out
	}

	for i, v := range values {
		if i >= size {
			break
		}
		out[i] = float32((v - lo) / span)
	}
	return out
}
