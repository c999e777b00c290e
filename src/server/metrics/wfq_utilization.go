package metrics

import "math"

// utilization compares the service each class received in a window with the
// service its shares entitle it to.
type utilization struct {
	target []float64 // normalized shares, summing to 1
	share  []float64 // observed fraction of the window's bytes
	err    []float64 // |share - target|

	mae  float64
	jain float64
}

func normalizeWeights(weights []uint32) []float64 {
	var sum float64
	for _, w := range weights {
		sum += float64(w)
	}

	out := make([]float64, len(weights))
	if sum == 0 {
		return out
	}
	for i, w := range weights {
		out[i] = float64(w) / sum
	}
	return out
}

// computeUtilization evaluates one window of bytes against the normalized
// target weights. Jain's index is computed over share/target so that a
// perfectly weighted split scores 1.
func computeUtilization(bytes []int64, target []float64) utilization {
	u := utilization{
		target: target,
		share:  make([]float64, len(bytes)),
		err:    make([]float64, len(bytes)),
	}

	var total int64
	for _, b := range bytes {
		total += b
	}

	var s, s2 float64
	var n int
	for i, b := range bytes {
		if total > 0 {
			u.share[i] = float64(b) / float64(total)
		}
		u.err[i] = math.Abs(u.share[i] - target[i])
		u.mae += u.err[i]

		if target[i] > 0 {
			x := u.share[i] / target[i]
			s += x
			s2 += x * x
			n++
		}
	}
	if len(bytes) > 0 {
		u.mae /= float64(len(bytes))
	}
	if s2 > 0 {
		u.jain = (s * s) / (float64(n) * s2)
	}
	return u
}
