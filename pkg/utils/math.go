package utils

import "math"

// Dot returns the dot product of a and b, or 0 when the lengths differ or are zero.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Norm returns the L2 norm of x.
func Norm(x []float32) float64 {
	return math.Sqrt(Dot(x, x))
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty, zero or
// the lengths differ.
func Cosine(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// NormalizeL2 scales x in place to unit L2 norm. Zero vectors are left untouched.
func NormalizeL2(x []float32) {
	n := Norm(x)
	if n == 0 {
		return
	}
	inv := float32(1 / n)
	for i := range x {
		x[i] *= inv
	}
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
