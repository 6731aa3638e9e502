package decoder

// Resample converts src from one rate to another by linear interpolation.
func Resample(src []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(src) == 0 {
		return append([]float32(nil), src...)
	}
	n := int(int64(len(src)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(src) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = src[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = src[idx] + (src[idx+1]-src[idx])*frac
	}
	return out
}
