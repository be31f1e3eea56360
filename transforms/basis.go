package transforms

import (
	"math"

	. "github.com/gomlx/exceptions"
)

// Basis expansion types for scalar distances.
const (
	BasisGaussian = "gaussian"
	BasisLinear   = "linear"
)

// DistanceBasis expands a scalar distance into dim radial features.
//
// "gaussian" centers dim Gaussians evenly on [0, maxDist] with width equal
// to the spacing. "linear" uses hat (piecewise linear) bumps on the same
// centers. Distances beyond maxDist land on the tail of the last center.
func DistanceBasis(basisType string, d float64, dim int, maxDist float64) []float32 {
	if dim <= 0 {
		Panicf("distance basis dimension must be positive, got %d", dim)
	}
	out := make([]float32, dim)
	spacing := maxDist
	if dim > 1 {
		spacing = maxDist / float64(dim-1)
	}
	switch basisType {
	case BasisGaussian:
		for k := 0; k < dim; k++ {
			mu := float64(k) * spacing
			z := (d - mu) / spacing
			out[k] = float32(math.Exp(-0.5 * z * z))
		}
	case BasisLinear:
		for k := 0; k < dim; k++ {
			mu := float64(k) * spacing
			v := 1.0 - math.Abs(d-mu)/spacing
			if v < 0 {
				v = 0
			}
			out[k] = float32(v)
		}
	default:
		Panicf("distance basis type %q not implemented (valid: %q, %q)",
			basisType, BasisGaussian, BasisLinear)
	}
	return out
}

// CosineBasis expands an angle (given by its cosine) into dim features
// cos(k*theta), k=1..dim.
func CosineBasis(cosTheta float64, dim int) []float32 {
	if dim <= 0 {
		Panicf("angle basis dimension must be positive, got %d", dim)
	}
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	out := make([]float32, dim)
	for k := 0; k < dim; k++ {
		out[k] = float32(math.Cos(float64(k+1) * theta))
	}
	return out
}
