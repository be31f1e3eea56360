// Package transforms implements the geometric featurization pipeline applied
// to graph samples before batching: pairwise distances (from coordinates,
// distance-geometry bounds or personalized PageRank), basis expansions of
// per-edge distances, and the line-graph companion with angle features.
//
// Transforms never mutate the slices of the incoming graph: they work on a
// shallow clone and replace whole fields, so the same underlying sample can
// be shared by different pipelines.
package transforms

import (
	. "github.com/gomlx/exceptions"

	"github.com/gomlx/molgraphs/graphs"
)

// Transform maps a graph sample to a new one. Implementations panic (via
// exceptions) on malformed inputs: pipelines are assembled once and applied
// to many samples, a bad sample is a dataset bug.
type Transform func(*graphs.Graph) *graphs.Graph

// Compose chains transforms left to right.
func Compose(ts ...Transform) Transform {
	return func(g *graphs.Graph) *graphs.Graph {
		for _, t := range ts {
			g = t(g)
		}
		return g
	}
}

// Distance sources for Config.DistanceSource.
const (
	DistanceNone       = ""
	DistanceCoords     = "coords"
	DistanceBoundsBoth = "bounds_both"
)

// Angle modes for Config.AngleMode.
const (
	AngleCenter     = "center"
	AngleCenterBoth = "center_both"
)

// Config selects which featurization steps to assemble, mirroring the
// hyperparameter surface of the training driver.
type Config struct {
	// AddPPRDistance adds a personalized-PageRank proximity distance basis.
	AddPPRDistance bool
	// DistanceSource selects the geometric distance: "" (none), "coords"
	// (pairwise from node coordinates) or "bounds_both" (lower and upper
	// distance-geometry bounds).
	DistanceSource string

	// BasisToEdgeAttrs folds the accumulated distance basis into the edge
	// float attributes, for models that consume distances as plain edge
	// features. Mutually exclusive with LineGraphDistance.
	BasisToEdgeAttrs bool

	// LineGraphDistance moves the distance basis to the line-graph nodes
	// instead of the graph edge attributes, and builds the line graph.
	LineGraphDistance bool
	// LineGraphAngle fills line-graph edge attributes with the angle basis;
	// otherwise they get a constant feature.
	LineGraphAngle bool
	// AngleMode is "center" or "center_both" (the latter only with
	// DistanceSource == "bounds_both").
	AngleMode string

	BasisType     string // "gaussian" or "linear"
	DistBasisDim  int
	AngleBasisDim int
	// MaxDistance is the upper range of the distance basis centers.
	MaxDistance float64
	// PPRAlpha is the teleport probability of the PageRank iteration.
	PPRAlpha float64
}

// Build assembles the transform chain for the configuration: distance
// sources first, then per-edge basis expansion, then either edge attributes
// or the line graph, and finally the scratch distance matrices are dropped.
func (cfg Config) Build() Transform {
	var chain []Transform

	hasDistance := cfg.AddPPRDistance || cfg.DistanceSource != DistanceNone
	angleMode := cfg.AngleMode
	if angleMode == "" {
		angleMode = AngleCenter
	}

	switch cfg.DistanceSource {
	case DistanceNone:
	case DistanceCoords:
		chain = append(chain, SetCoordDistances)
	case DistanceBoundsBoth:
		chain = append(chain, SetCoordDistances, SetBoundsDistances(defaultBoundsSlack))
	default:
		Panicf("distance source %q not implemented", cfg.DistanceSource)
	}
	if cfg.DistanceSource != DistanceNone {
		chain = append(chain, SetEdgeDistances(cfg.BasisType, cfg.DistBasisDim, cfg.MaxDistance))
	}
	if cfg.AddPPRDistance {
		chain = append(chain, SetPPRDistance(cfg.PPRAlpha, cfg.BasisType, cfg.DistBasisDim))
	}

	// The distance basis ends up in one of three places: folded into the
	// edge attributes, moved to the line-graph nodes, or kept as the
	// separate per-edge basis tensor which the models embed and modulate
	// into the messages.
	if cfg.BasisToEdgeAttrs {
		if cfg.LineGraphDistance {
			Panicf("the distance basis goes to the edge attributes or to the line-graph nodes, not both")
		}
		if !hasDistance {
			Panicf("BasisToEdgeAttrs needs a distance source or the PPR distance")
		}
		chain = append(chain, SetEdgeAttrsFromBasis)
	}
	if hasDistance && cfg.LineGraphDistance {
		chain = append(chain, AddLineGraph, SetLineGraphNodeAttrs)
	}
	if cfg.LineGraphDistance {
		if cfg.LineGraphAngle {
			if angleMode == AngleCenterBoth && cfg.DistanceSource != DistanceBoundsBoth {
				// Both-bounds angles need both bounds matrices.
				angleMode = AngleCenter
			}
			chain = append(chain, SetLineGraphAngleAttrs(angleMode, cfg.AngleBasisDim))
		} else {
			chain = append(chain, SetLineGraphConstEdgeAttrs)
		}
	}

	chain = append(chain, DropDistances)
	return Compose(chain...)
}

// DropDistances releases the scratch distance matrices and coordinates once
// featurization is done, keeping only the per-edge bases and the line graph.
func DropDistances(g *graphs.Graph) *graphs.Graph {
	out := g.Clone()
	out.DistMatrix, out.DistLower, out.DistUpper = nil, nil, nil
	out.EdgeDist = nil
	out.Coords, out.CoordDim = nil, 0
	return out
}

// appendEdgeBasis concatenates extra basis columns to the per-edge basis
// matrix, keeping it row-major.
func appendEdgeBasis(g *graphs.Graph, basis []float32, dim int) {
	if g.EdgeDistBasisDim == 0 {
		g.EdgeDistBasis, g.EdgeDistBasisDim = basis, dim
		return
	}
	oldDim := g.EdgeDistBasisDim
	newDim := oldDim + dim
	merged := make([]float32, g.NumEdges*newDim)
	for e := 0; e < g.NumEdges; e++ {
		copy(merged[e*newDim:], g.EdgeDistBasis[e*oldDim:(e+1)*oldDim])
		copy(merged[e*newDim+oldDim:], basis[e*dim:(e+1)*dim])
	}
	g.EdgeDistBasis, g.EdgeDistBasisDim = merged, newDim
}
