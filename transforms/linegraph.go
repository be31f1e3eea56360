package transforms

import (
	. "github.com/gomlx/exceptions"

	"github.com/gomlx/molgraphs/graphs"
)

// AddLineGraph builds the edge-adjacency dual: one line-graph node per
// original edge, and a line-graph edge for each pair (a->b, b->c) of
// consecutive original edges. Pure backtracking pairs (a->b, b->a) are
// excluded: they carry no angle information.
func AddLineGraph(g *graphs.Graph) *graphs.Graph {
	// Edges grouped by their source node, to enumerate consecutive pairs.
	bySource := make([][]int32, g.NumNodes)
	for e := 0; e < g.NumEdges; e++ {
		s := g.EdgeSource[e]
		bySource[s] = append(bySource[s], int32(e))
	}
	var source, target []int32
	for e1 := 0; e1 < g.NumEdges; e1++ {
		a, b := g.EdgeSource[e1], g.EdgeTarget[e1]
		for _, e2 := range bySource[b] {
			if g.EdgeTarget[e2] == a {
				continue // backtracking pair
			}
			source = append(source, int32(e1))
			target = append(target, e2)
		}
	}
	out := g.Clone()
	out.LineGraph = &graphs.LineGraph{
		NumEdges: len(source),
		Source:   source,
		Target:   target,
	}
	return out
}

// SetLineGraphNodeAttrs moves the accumulated per-edge distance basis to the
// line-graph node attributes.
func SetLineGraphNodeAttrs(g *graphs.Graph) *graphs.Graph {
	if g.LineGraph == nil {
		Panicf("SetLineGraphNodeAttrs: line graph not built")
	}
	if g.EdgeDistBasisDim == 0 {
		Panicf("SetLineGraphNodeAttrs: no distance basis computed")
	}
	out := g.Clone()
	lg := *g.LineGraph
	lg.NodeBasis, lg.NodeBasisDim = g.EdgeDistBasis, g.EdgeDistBasisDim
	out.LineGraph = &lg
	out.EdgeDistBasis, out.EdgeDistBasisDim = nil, 0
	return out
}

// SetLineGraphConstEdgeAttrs fills line-graph edge attributes with a
// constant feature, for configurations without angle information.
func SetLineGraphConstEdgeAttrs(g *graphs.Graph) *graphs.Graph {
	if g.LineGraph == nil {
		Panicf("SetLineGraphConstEdgeAttrs: line graph not built")
	}
	out := g.Clone()
	lg := *g.LineGraph
	lg.EdgeBasis = make([]float32, lg.NumEdges)
	for i := range lg.EdgeBasis {
		lg.EdgeBasis[i] = 1
	}
	lg.EdgeBasisDim = 1
	out.LineGraph = &lg
	return out
}

// SetLineGraphAngleAttrs fills line-graph edge attributes with the cosine
// basis of the angle at the shared node of each consecutive edge pair.
//
// The angle for the pair (a->b, b->c) is derived from the distance matrix
// by the law of cosines. Mode "center" uses the distance matrix; mode
// "center_both" computes the angle twice, from the lower and the upper
// bounds matrices, and concatenates both bases.
func SetLineGraphAngleAttrs(mode string, dim int) Transform {
	return func(g *graphs.Graph) *graphs.Graph {
		if g.LineGraph == nil {
			Panicf("SetLineGraphAngleAttrs: line graph not built")
		}
		var matrices [][]float32
		switch mode {
		case AngleCenter:
			if g.DistMatrix == nil {
				Panicf("SetLineGraphAngleAttrs: distance matrix not computed")
			}
			matrices = [][]float32{g.DistMatrix}
		case AngleCenterBoth:
			if g.DistLower == nil || g.DistUpper == nil {
				Panicf("SetLineGraphAngleAttrs: bounds matrices not computed")
			}
			matrices = [][]float32{g.DistLower, g.DistUpper}
		default:
			Panicf("angle mode %q not implemented", mode)
		}

		out := g.Clone()
		lg := *g.LineGraph
		lg.EdgeBasisDim = dim * len(matrices)
		lg.EdgeBasis = make([]float32, lg.NumEdges*lg.EdgeBasisDim)
		n := g.NumNodes
		for le := 0; le < lg.NumEdges; le++ {
			e1, e2 := lg.Source[le], lg.Target[le]
			a, b := int(g.EdgeSource[e1]), int(g.EdgeTarget[e1])
			c := int(g.EdgeTarget[e2])
			row := lg.EdgeBasis[le*lg.EdgeBasisDim:]
			for mi, dist := range matrices {
				dab := float64(dist[a*n+b])
				dbc := float64(dist[b*n+c])
				dac := float64(dist[a*n+c])
				cos := 0.0
				if dab > 0 && dbc > 0 {
					cos = (dab*dab + dbc*dbc - dac*dac) / (2 * dab * dbc)
				}
				copy(row[mi*dim:], CosineBasis(cos, dim))
			}
		}
		out.LineGraph = &lg
		return out
	}
}
