package deepergcn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"

	"github.com/gomlx/molgraphs/datasets"
	"github.com/gomlx/molgraphs/encoders"
	"github.com/gomlx/molgraphs/graphs"
)

// LineGraphModelGraph is the model function of the line-graph variant: the
// convolution stack runs over the edge-adjacency dual, with angle bases on
// its edges, and the edge states are pooled back to nodes for the readout.
func LineGraphModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	dsSpec := spec.(*datasets.Spec)
	in := dsSpec.Layout().SplitInputs(inputs)
	if in.LineSource == nil {
		Panicf("line-graph model needs batches that carry a line graph, dataset %q has none", dsSpec.Name)
	}
	logits := PredictLineGraph(ctx.In("model"), dsSpec, in)
	return []*Node{logits}
}

// PredictLineGraph builds the line-graph model: each original edge becomes a
// state initialized from its endpoint encodings, its own features and the
// embedded distance basis; the residual stack then convolves over pairs of
// consecutive edges.
func PredictLineGraph(ctx *context.Context, spec *datasets.Spec, in *graphs.BatchInputs) *Node {
	hiddenDim := context.GetParamOr(ctx, ParamHiddenDim, 256)
	numLayers := context.GetParamOr(ctx, ParamNumLayers, 7)

	nodeEnc := encoders.Features(ctx.In("node_encoder"), in.NodeFeatures, spec.NodeVocab, hiddenDim)
	state := Add(
		Gather(nodeEnc, InsertAxes(in.EdgeSource, -1)),
		Gather(nodeEnc, InsertAxes(in.EdgeTarget, -1)))
	if in.EdgeFeatures != nil {
		state = Add(state, encoders.Features(ctx.In("edge_encoder"), in.EdgeFeatures, spec.EdgeVocab, hiddenDim))
	}
	if in.LineNodeBasis != nil {
		state = Add(state, encoders.Continuous(ctx.In("line_node_encoder"), in.LineNodeBasis, hiddenDim))
	}

	state = stack(ctx, state, convInputs{
		source:   in.LineSource,
		target:   in.LineTarget,
		mask:     in.LineMask,
		nodeMask: in.EdgeMask,
		basis:    in.LineEdgeBasis,
	}, hiddenDim, numLayers)

	nodes := poolEdgesToNodes(state, in.EdgeTarget, in.EdgeMask, in.NodeMask.Shape().Dim(0))
	pooled := Readout(ctx, nodes, spec, in)
	return layers.DenseWithBias(ctx.In("head"), pooled, spec.NumLogits())
}

// poolEdgesToNodes averages the states of the incoming edges of each node.
// Nodes without incoming edges get zeros.
func poolEdgesToNodes(edgeStates, edgeTarget, edgeMask *Node, numNodes int) *Node {
	g := edgeStates.Graph()
	dtype := edgeStates.DType()
	dim := edgeStates.Shape().Dim(-1)
	maskF := ConvertDType(InsertAxes(edgeMask, -1), dtype)
	indices := InsertAxes(edgeTarget, -1)
	sums := ScatterAdd(Zeros(g, shapes.Make(dtype, numNodes, dim)), indices, Mul(edgeStates, maskF), false, false)
	counts := ScatterAdd(Zeros(g, shapes.Make(dtype, numNodes, 1)), indices, maskF, false, false)
	return Div(sums, MaxScalar(counts, 1))
}
