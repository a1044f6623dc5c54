package embedding

import "testing"

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("meanPool = %v, want [2 3]", got)
	}

	if got := meanPool(hidden, []int64{0, 0, 0}, 2); got[0] != 0 || got[1] != 0 {
		t.Errorf("fully masked = %v, want zeros", got)
	}
	if got := meanPool(hidden[:2], []int64{1, 1}, 2); got[0] != 1 || got[1] != 2 {
		t.Errorf("short hidden state = %v, want [1 2]", got)
	}
}
