// Package graphs defines the in-memory representation of molecular graph
// samples and their batching into fixed-shape tensors.
//
// A Graph is built once by a dataset loader, optionally enriched by the
// transforms package (distances, basis expansions, line-graph companion),
// and is read-only from then on. Batches are disjoint unions of graphs
// padded to fixed node/edge budgets, so the backend compiles a single
// computation graph per dataset configuration.
package graphs

import (
	"math"

	"github.com/pkg/errors"
)

// Graph is a single graph sample. Feature matrices are stored flat,
// row-major. Either categorical (Cats) or continuous (Floats) features may
// be present, for nodes and edges independently.
//
// The geometric fields (Coords, Dist*, Edge*) are filled in by transforms
// and consumed either as extra edge features or by the line-graph builder.
type Graph struct {
	NumNodes, NumEdges int

	// NodeCats are categorical node features, shaped [NumNodes, NodeCatDim].
	NodeCats   []int32
	NodeCatDim int

	// NodeFloats are continuous node features, shaped [NumNodes, NodeFloatDim].
	NodeFloats   []float32
	NodeFloatDim int

	// EdgeSource[e] -> EdgeTarget[e] for each edge e. Directed: undirected
	// graphs store both directions.
	EdgeSource, EdgeTarget []int32

	EdgeCats   []int32
	EdgeCatDim int

	EdgeFloats   []float32
	EdgeFloatDim int

	// Coords are node positions, shaped [NumNodes, CoordDim], if the dataset
	// provides them (e.g. conformer positions for molecules).
	Coords   []float32
	CoordDim int

	// DistMatrix is the full pairwise distance matrix [NumNodes, NumNodes].
	// DistLower/DistUpper are distance-geometry bounds with the same shape.
	// These are scratch space for transforms and dropped before batching.
	DistMatrix, DistLower, DistUpper []float32

	// EdgeDist is the scalar distance per edge, EdgeDistBasis its basis
	// expansion shaped [NumEdges, EdgeDistBasisDim].
	EdgeDist         []float32
	EdgeDistBasis    []float32
	EdgeDistBasisDim int

	// LineGraph is the edge-adjacency dual companion, if built.
	LineGraph *LineGraph

	// Targets is the per-graph label vector. NaN marks an unlabeled task.
	Targets []float32
}

// LineGraph is the companion graph whose nodes are the original edges, with
// one line-graph edge for each pair of original edges (a->b, b->c) sharing
// an endpoint. It models triplet (angle) interactions.
type LineGraph struct {
	// NumEdges is the number of line-graph edges. The number of line-graph
	// nodes is the original graph's NumEdges.
	NumEdges int

	// Source and Target index into the original edge list.
	Source, Target []int32

	// NodeBasis holds per-original-edge features (usually the distance
	// basis), shaped [orig.NumEdges, NodeBasisDim].
	NodeBasis    []float32
	NodeBasisDim int

	// EdgeBasis holds per-line-graph-edge features (usually the angle
	// basis), shaped [NumEdges, EdgeBasisDim].
	EdgeBasis    []float32
	EdgeBasisDim int
}

// Validate returns an error if the graph's connectivity or feature matrices
// are inconsistent. Used by loaders and by DegreeHistogram to skip broken
// samples.
func (g *Graph) Validate() error {
	if g.NumNodes <= 0 {
		return errors.Errorf("graph has %d nodes", g.NumNodes)
	}
	if len(g.EdgeSource) != g.NumEdges || len(g.EdgeTarget) != g.NumEdges {
		return errors.Errorf("graph edge list sizes (%d, %d) don't match NumEdges=%d",
			len(g.EdgeSource), len(g.EdgeTarget), g.NumEdges)
	}
	for e := 0; e < g.NumEdges; e++ {
		if g.EdgeSource[e] < 0 || int(g.EdgeSource[e]) >= g.NumNodes ||
			g.EdgeTarget[e] < 0 || int(g.EdgeTarget[e]) >= g.NumNodes {
			return errors.Errorf("edge %d (%d->%d) out of range for %d nodes",
				e, g.EdgeSource[e], g.EdgeTarget[e], g.NumNodes)
		}
	}
	if g.NodeCatDim > 0 && len(g.NodeCats) != g.NumNodes*g.NodeCatDim {
		return errors.Errorf("node categorical features have %d values, want %d*%d",
			len(g.NodeCats), g.NumNodes, g.NodeCatDim)
	}
	if g.NodeFloatDim > 0 && len(g.NodeFloats) != g.NumNodes*g.NodeFloatDim {
		return errors.Errorf("node float features have %d values, want %d*%d",
			len(g.NodeFloats), g.NumNodes, g.NodeFloatDim)
	}
	if g.EdgeCatDim > 0 && len(g.EdgeCats) != g.NumEdges*g.EdgeCatDim {
		return errors.Errorf("edge categorical features have %d values, want %d*%d",
			len(g.EdgeCats), g.NumEdges, g.EdgeCatDim)
	}
	if g.EdgeFloatDim > 0 && len(g.EdgeFloats) != g.NumEdges*g.EdgeFloatDim {
		return errors.Errorf("edge float features have %d values, want %d*%d",
			len(g.EdgeFloats), g.NumEdges, g.EdgeFloatDim)
	}
	return nil
}

// Distance returns the entry (i, j) of the distance matrix. It panics if
// the matrix was not computed.
func (g *Graph) Distance(i, j int) float64 {
	return float64(g.DistMatrix[i*g.NumNodes+j])
}

// HasLabel reports whether task t has a label (not NaN).
func (g *Graph) HasLabel(t int) bool {
	return !math.IsNaN(float64(g.Targets[t]))
}

// Clone returns a shallow copy of the graph: the struct is copied but the
// underlying slices are shared. Transforms that modify a field must replace
// the slice, never write into it.
func (g *Graph) Clone() *Graph {
	clone := *g
	return &clone
}
