package transforms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/molgraphs/graphs"
)

func TestDistanceBasis(t *testing.T) {
	// 3 gaussian centers on [0, 2]: 0, 1, 2 with width 1.
	basis := DistanceBasis(BasisGaussian, 1.0, 3, 2.0)
	assert.InDelta(t, math.Exp(-0.5), float64(basis[0]), 1e-6)
	assert.InDelta(t, 1.0, float64(basis[1]), 1e-6)
	assert.InDelta(t, math.Exp(-0.5), float64(basis[2]), 1e-6)

	// Linear hats: exactly on a center it is one-hot.
	basis = DistanceBasis(BasisLinear, 1.0, 3, 2.0)
	assert.Equal(t, []float32{0, 1, 0}, basis)

	// Halfway between centers, both neighbors get half weight.
	basis = DistanceBasis(BasisLinear, 0.5, 3, 2.0)
	assert.InDelta(t, 0.5, float64(basis[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(basis[1]), 1e-6)
	assert.InDelta(t, 0.0, float64(basis[2]), 1e-6)
}

func TestCosineBasis(t *testing.T) {
	// Right angle: cos(k*pi/2) = 0, -1, 0 for k=1..3.
	basis := CosineBasis(0, 3)
	assert.InDelta(t, 0, float64(basis[0]), 1e-6)
	assert.InDelta(t, -1, float64(basis[1]), 1e-6)
	assert.InDelta(t, 0, float64(basis[2]), 1e-6)

	// Out-of-range cosines are clamped.
	basis = CosineBasis(1.5, 2)
	assert.InDelta(t, 1, float64(basis[0]), 1e-6)
	assert.InDelta(t, 1, float64(basis[1]), 1e-6)
}

// rightAnglePath is a two-hop path 0->1->2 with a right angle at node 1,
// stored in both directions.
func rightAnglePath() *graphs.Graph {
	return &graphs.Graph{
		NumNodes:   3,
		NumEdges:   4,
		EdgeSource: []int32{0, 1, 1, 2},
		EdgeTarget: []int32{1, 0, 2, 1},
		Coords:     []float32{0, 0, 1, 0, 1, 1},
		CoordDim:   2,
	}
}

func TestSetCoordDistances(t *testing.T) {
	g := SetCoordDistances(rightAnglePath())
	assert.InDelta(t, 1.0, g.Distance(0, 1), 1e-6)
	assert.InDelta(t, 1.0, g.Distance(1, 2), 1e-6)
	assert.InDelta(t, math.Sqrt2, g.Distance(0, 2), 1e-6)
	assert.InDelta(t, g.Distance(2, 0), g.Distance(0, 2), 1e-6)
}

func TestSetEdgeDistances(t *testing.T) {
	g := SetCoordDistances(rightAnglePath())
	g = SetEdgeDistances(BasisLinear, 5, 4.0)(g)
	require.Equal(t, 5, g.EdgeDistBasisDim)
	require.Len(t, g.EdgeDistBasis, 4*5)
	assert.InDelta(t, 1.0, float64(g.EdgeDist[0]), 1e-6)
	// Linear basis with centers 0,1,2,3,4: distance 1 is one-hot on center 1.
	assert.Equal(t, []float32{0, 1, 0, 0, 0}, g.EdgeDistBasis[:5])
}

func TestAddLineGraph(t *testing.T) {
	g := AddLineGraph(rightAnglePath())
	lg := g.LineGraph
	require.NotNil(t, lg)

	// Consecutive pairs excluding backtracking: (0->1, 1->2) and (2->1, 1->0).
	require.Equal(t, 2, lg.NumEdges)
	pairs := map[[2]int32]bool{}
	for i := 0; i < lg.NumEdges; i++ {
		pairs[[2]int32{lg.Source[i], lg.Target[i]}] = true
	}
	assert.True(t, pairs[[2]int32{0, 2}]) // edge 0 (0->1) into edge 2 (1->2)
	assert.True(t, pairs[[2]int32{3, 1}]) // edge 3 (2->1) into edge 1 (1->0)
}

func TestSetLineGraphAngleAttrs(t *testing.T) {
	g := SetCoordDistances(rightAnglePath())
	g = AddLineGraph(g)
	g = SetLineGraphAngleAttrs(AngleCenter, 2)(g)
	lg := g.LineGraph
	require.Equal(t, 2, lg.EdgeBasisDim)

	// The angle at node 1 is 90 degrees: cos(theta)=0, cos(2*theta)=-1.
	assert.InDelta(t, 0, float64(lg.EdgeBasis[0]), 1e-5)
	assert.InDelta(t, -1, float64(lg.EdgeBasis[1]), 1e-5)
}

func TestConfigBuildLineGraphPipeline(t *testing.T) {
	transform := Config{
		DistanceSource:    DistanceCoords,
		LineGraphDistance: true,
		LineGraphAngle:    true,
		BasisType:         BasisGaussian,
		DistBasisDim:      4,
		AngleBasisDim:     3,
		MaxDistance:       4.0,
	}.Build()
	g := transform(rightAnglePath())

	require.NotNil(t, g.LineGraph)
	// The distance basis moved to the line-graph nodes.
	assert.Equal(t, 0, g.EdgeDistBasisDim)
	assert.Equal(t, 4, g.LineGraph.NodeBasisDim)
	assert.Equal(t, 3, g.LineGraph.EdgeBasisDim)
	// Scratch matrices are dropped after featurization.
	assert.Nil(t, g.DistMatrix)
	assert.Nil(t, g.Coords)
}

func TestConfigBuildEdgeBasisPipeline(t *testing.T) {
	transform := Config{
		DistanceSource: DistanceCoords,
		AddPPRDistance: true,
		PPRAlpha:       0.15,
		BasisType:      BasisGaussian,
		DistBasisDim:   4,
		MaxDistance:    4.0,
	}.Build()
	g := transform(rightAnglePath())

	// Geometric and PPR bases are concatenated per edge.
	assert.Equal(t, 8, g.EdgeDistBasisDim)
	assert.Nil(t, g.LineGraph)
	assert.Nil(t, g.DistMatrix)
}

func TestConfigBuildBasisToEdgeAttrs(t *testing.T) {
	transform := Config{
		DistanceSource:   DistanceCoords,
		BasisToEdgeAttrs: true,
		BasisType:        BasisGaussian,
		DistBasisDim:     4,
		MaxDistance:      4.0,
	}.Build()
	g := transform(rightAnglePath())

	// The basis was folded into the edge float attributes.
	assert.Equal(t, 0, g.EdgeDistBasisDim)
	assert.Nil(t, g.EdgeDistBasis)
	assert.Equal(t, 4, g.EdgeFloatDim)
	assert.Len(t, g.EdgeFloats, 4*4)
}

func TestSetEdgeAttrsFromBasisMergesFloats(t *testing.T) {
	g := rightAnglePath()
	g.EdgeFloats = []float32{10, 20, 30, 40}
	g.EdgeFloatDim = 1
	g = SetCoordDistances(g)
	g = SetEdgeDistances(BasisLinear, 5, 4.0)(g)
	g = SetEdgeAttrsFromBasis(g)

	require.Equal(t, 6, g.EdgeFloatDim)
	require.Len(t, g.EdgeFloats, 4*6)
	// Existing attributes come first, the basis columns after.
	assert.Equal(t, float32(10), g.EdgeFloats[0])
	assert.Equal(t, []float32{0, 1, 0, 0, 0}, g.EdgeFloats[1:6])
	assert.Equal(t, 0, g.EdgeDistBasisDim)
}

func TestConfigBuildConflictingBasisTargets(t *testing.T) {
	require.Panics(t, func() {
		Config{
			DistanceSource:    DistanceCoords,
			BasisToEdgeAttrs:  true,
			LineGraphDistance: true,
			BasisType:         BasisGaussian,
			DistBasisDim:      4,
		}.Build()
	})
}

func TestSetPPRDistanceSymmetry(t *testing.T) {
	g := SetPPRDistance(0.15, BasisGaussian, 4)(rightAnglePath())
	require.Equal(t, 4, g.EdgeDistBasisDim)
	// Edges 0 (0->1) and 1 (1->0) see the same symmetrized proximity.
	assert.Equal(t, g.EdgeDistBasis[0:4], g.EdgeDistBasis[4:8])
}

func TestTransformsDoNotMutateInput(t *testing.T) {
	orig := rightAnglePath()
	_ = SetCoordDistances(orig)
	assert.Nil(t, orig.DistMatrix)

	withDist := SetCoordDistances(orig)
	_ = SetEdgeDistances(BasisLinear, 3, 4.0)(withDist)
	assert.Nil(t, withDist.EdgeDistBasis)
}
