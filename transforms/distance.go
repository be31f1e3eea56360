package transforms

import (
	"math"

	. "github.com/gomlx/exceptions"

	"github.com/gomlx/molgraphs/graphs"
)

// defaultBoundsSlack is the relative slack used to derive lower/upper
// distance-geometry bounds from measured distances.
const defaultBoundsSlack = 0.1

// SetCoordDistances fills the pairwise distance matrix from the node
// coordinates.
func SetCoordDistances(g *graphs.Graph) *graphs.Graph {
	if g.CoordDim == 0 {
		Panicf("SetCoordDistances: graph has no node coordinates")
	}
	n, dim := g.NumNodes, g.CoordDim
	dist := make([]float32, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var sum float64
			for k := 0; k < dim; k++ {
				d := float64(g.Coords[i*dim+k] - g.Coords[j*dim+k])
				sum += d * d
			}
			d := float32(math.Sqrt(sum))
			dist[i*n+j], dist[j*n+i] = d, d
		}
	}
	out := g.Clone()
	out.DistMatrix = dist
	return out
}

// SetBoundsDistances derives lower and upper distance bounds from the
// distance matrix with a relative slack. It stands in for conformer-free
// bounds matrices: downstream code only relies on lower <= dist <= upper.
func SetBoundsDistances(slack float64) Transform {
	return func(g *graphs.Graph) *graphs.Graph {
		if g.DistMatrix == nil {
			Panicf("SetBoundsDistances: distance matrix not computed")
		}
		lower := make([]float32, len(g.DistMatrix))
		upper := make([]float32, len(g.DistMatrix))
		for i, d := range g.DistMatrix {
			lower[i] = d * float32(1-slack)
			upper[i] = d * float32(1+slack)
		}
		out := g.Clone()
		out.DistLower, out.DistUpper = lower, upper
		return out
	}
}

// SetEdgeDistances reads the per-edge distance off the distance matrix and
// appends its basis expansion to the edge basis matrix.
func SetEdgeDistances(basisType string, dim int, maxDist float64) Transform {
	if maxDist <= 0 {
		maxDist = 4.0
	}
	return func(g *graphs.Graph) *graphs.Graph {
		if g.DistMatrix == nil {
			Panicf("SetEdgeDistances: distance matrix not computed")
		}
		out := g.Clone()
		edgeDist := make([]float32, g.NumEdges)
		basis := make([]float32, g.NumEdges*dim)
		for e := 0; e < g.NumEdges; e++ {
			d := out.Distance(int(g.EdgeSource[e]), int(g.EdgeTarget[e]))
			edgeDist[e] = float32(d)
			copy(basis[e*dim:], DistanceBasis(basisType, d, dim, maxDist))
		}
		out.EdgeDist = edgeDist
		appendEdgeBasis(out, basis, dim)
		return out
	}
}

// SetPPRDistance computes the personalized-PageRank proximity of each edge's
// endpoints and appends its basis expansion to the edge basis matrix. The
// proximity is turned into a distance with -log(ppr), then expanded over
// [0, maxPPRDistance].
func SetPPRDistance(alpha float64, basisType string, dim int) Transform {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.15
	}
	const (
		iterations     = 50
		maxPPRDistance = 10.0
	)
	return func(g *graphs.Graph) *graphs.Graph {
		n := g.NumNodes
		// Out-degree normalized adjacency.
		degree := make([]float64, n)
		for _, s := range g.EdgeSource {
			degree[s]++
		}
		// ppr[i*n+j]: PageRank mass at j personalized on i.
		ppr := make([]float64, n*n)
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			row := ppr[i*n : (i+1)*n]
			row[i] = 1
			for it := 0; it < iterations; it++ {
				for j := range next {
					next[j] = 0
				}
				next[i] = alpha
				for e := 0; e < g.NumEdges; e++ {
					s, t := g.EdgeSource[e], g.EdgeTarget[e]
					if degree[s] > 0 {
						next[t] += (1 - alpha) * row[s] / degree[s]
					}
				}
				copy(row, next)
			}
		}
		basis := make([]float32, g.NumEdges*dim)
		for e := 0; e < g.NumEdges; e++ {
			s, t := int(g.EdgeSource[e]), int(g.EdgeTarget[e])
			// Symmetrized proximity, as distance.
			p := (ppr[s*n+t] + ppr[t*n+s]) / 2
			d := maxPPRDistance
			if p > 0 {
				d = math.Min(-math.Log(p), maxPPRDistance)
			}
			copy(basis[e*dim:], DistanceBasis(basisType, d, dim, maxPPRDistance))
		}
		out := g.Clone()
		appendEdgeBasis(out, basis, dim)
		return out
	}
}

// SetEdgeAttrsFromBasis appends the accumulated distance basis to the edge
// float attributes, for models that consume distances as plain edge
// features (the non-line-graph variant).
func SetEdgeAttrsFromBasis(g *graphs.Graph) *graphs.Graph {
	if g.EdgeDistBasisDim == 0 {
		Panicf("SetEdgeAttrsFromBasis: no distance basis computed")
	}
	out := g.Clone()
	if g.EdgeFloatDim == 0 {
		out.EdgeFloats = g.EdgeDistBasis
		out.EdgeFloatDim = g.EdgeDistBasisDim
	} else {
		oldDim, addDim := g.EdgeFloatDim, g.EdgeDistBasisDim
		newDim := oldDim + addDim
		merged := make([]float32, g.NumEdges*newDim)
		for e := 0; e < g.NumEdges; e++ {
			copy(merged[e*newDim:], g.EdgeFloats[e*oldDim:(e+1)*oldDim])
			copy(merged[e*newDim+oldDim:], g.EdgeDistBasis[e*addDim:(e+1)*addDim])
		}
		out.EdgeFloats, out.EdgeFloatDim = merged, newDim
	}
	out.EdgeDistBasis, out.EdgeDistBasisDim = nil, 0
	return out
}
