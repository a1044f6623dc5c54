package embedding

// meanPool averages per-token hidden states ([seq][dims], flattened) over the positions
// the attention mask keeps.
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var kept float32
	for i, m := range mask {
		if m == 0 {
			continue
		}
		if (i+1)*dims > len(hidden) {
			break
		}
		for j, v := range hidden[i*dims : (i+1)*dims] {
			out[j] += v
		}
		kept++
	}
	if kept == 0 {
		return out
	}
	for j := range out {
		out[j] /= kept
	}
	return out
}
