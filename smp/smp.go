// Package smp implements Structural Message Passing in a dense padded
// formulation: each graph carries a local context tensor
// U: [graphs, capacity, capacity, channels], where row i is node i's view of
// every other node. The one-hot identity initialization lets the network
// distinguish nodes that plain message passing cannot tell apart.
//
// The same machinery runs over the original graph (nodes as items) or over
// the line graph (edges as items, angle bases gating the messages).
package smp

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/molgraphs/datasets"
	"github.com/gomlx/molgraphs/encoders"
	"github.com/gomlx/molgraphs/graphs"
)

var (
	// ParamChannels is the context hyperparameter with the width of the
	// context tensor channels. Default is 32: the tensor is quartic in the
	// graph capacity, channels stay narrow.
	ParamChannels = "smp_channels"

	// ParamNumLayers is the number of structural message passing layers.
	// Default is 4.
	ParamNumLayers = "smp_num_layers"

	// ParamHiddenFinal is the width of the per-item features extracted from
	// the context tensor before pooling. Default is 128.
	ParamHiddenFinal = "smp_hidden_final"

	// ParamResidual adds the layer output to its input. Default is true.
	ParamResidual = "smp_residual"

	// ParamMapFeatures seeds the diagonal of the context tensor with the
	// encoded item features, in addition to the one-hot identity.
	// Default is true.
	ParamMapFeatures = "smp_map_features"
)

// ModelGraph is the model function for train.NewTrainer: structural message
// passing over the batch's node graph.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	dsSpec := spec.(*datasets.Spec)
	in := dsSpec.Layout().SplitInputs(inputs)
	return []*Node{Predict(ctx.In("model"), dsSpec, in)}
}

// LineGraphModelGraph runs the structural message passing over the line
// graph: items are the original edges, messages flow between consecutive
// edges, gated by the angle basis.
func LineGraphModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	dsSpec := spec.(*datasets.Spec)
	in := dsSpec.Layout().SplitInputs(inputs)
	if in.LineSource == nil {
		Panicf("line-graph model needs batches that carry a line graph, dataset %q has none", dsSpec.Name)
	}
	return []*Node{PredictLineGraph(ctx.In("model"), dsSpec, in)}
}

// items describes one padded item set (nodes or edges) with its relations,
// everything in the flat batch layout.
type items struct {
	capacity           int   // dense per-graph capacity
	graphIds, localIds *Node // [numItems]
	mask               *Node // [numItems] bool
	features           *Node // [numItems, channels], already encoded

	relGraphs                      *Node // [numRelations]
	relSourceLocal, relTargetLocal *Node
	relMask                        *Node // [numRelations] bool
	gate                           *Node // optional [numRelations, channels]
}

// Predict runs the node formulation and returns logits shaped
// [maxGraphs, numLogits].
func Predict(ctx *context.Context, spec *datasets.Spec, in *graphs.BatchInputs) *Node {
	channels := context.GetParamOr(ctx, ParamChannels, 32)

	var features *Node
	if context.GetParamOr(ctx, ParamMapFeatures, true) {
		features = encoders.Features(ctx.In("node_encoder"), in.NodeFeatures, spec.NodeVocab, channels)
	}
	var gate *Node
	if in.EdgeFeatures != nil {
		gate = Sigmoid(encoders.Features(ctx.In("gate_encoder"), in.EdgeFeatures, spec.EdgeVocab, channels))
	}
	localOf := func(flat *Node) *Node { return Gather(in.NodeLocal, InsertAxes(flat, -1)) }

	pooled := run(ctx, in, items{
		capacity:       spec.Budgets.MaxNodesPerGraph,
		graphIds:       in.NodeGraphs,
		localIds:       in.NodeLocal,
		mask:           in.NodeMask,
		features:       features,
		relGraphs:      in.EdgeGraphs,
		relSourceLocal: localOf(in.EdgeSource),
		relTargetLocal: localOf(in.EdgeTarget),
		relMask:        in.EdgeMask,
		gate:           gate,
	})
	return layers.DenseWithBias(ctx.In("head"), pooled, spec.NumLogits())
}

// PredictLineGraph runs the line-graph formulation: items are edges, their
// initial features pool the endpoint encodings plus the edge's own
// attributes and distance basis, and the relations are consecutive edge
// pairs gated by the angle basis.
func PredictLineGraph(ctx *context.Context, spec *datasets.Spec, in *graphs.BatchInputs) *Node {
	channels := context.GetParamOr(ctx, ParamChannels, 32)

	var features *Node
	if context.GetParamOr(ctx, ParamMapFeatures, true) {
		nodeEnc := encoders.Features(ctx.In("node_encoder"), in.NodeFeatures, spec.NodeVocab, channels)
		features = Add(
			Gather(nodeEnc, InsertAxes(in.EdgeSource, -1)),
			Gather(nodeEnc, InsertAxes(in.EdgeTarget, -1)))
		if in.EdgeFeatures != nil {
			features = Add(features, encoders.Features(ctx.In("edge_encoder"), in.EdgeFeatures, spec.EdgeVocab, channels))
		}
		if in.LineNodeBasis != nil {
			features = Add(features, encoders.Continuous(ctx.In("line_node_encoder"), in.LineNodeBasis, channels))
		}
	}
	var gate *Node
	if in.LineEdgeBasis != nil {
		gate = Sigmoid(encoders.Continuous(ctx.In("gate_encoder"), in.LineEdgeBasis, channels))
	}
	localOf := func(flat *Node) *Node { return Gather(in.EdgeLocal, InsertAxes(flat, -1)) }

	pooled := run(ctx, in, items{
		capacity:       spec.Budgets.MaxEdgesPerGraph,
		graphIds:       in.EdgeGraphs,
		localIds:       in.EdgeLocal,
		mask:           in.EdgeMask,
		features:       features,
		relGraphs:      in.LineGraphs,
		relSourceLocal: localOf(in.LineSource),
		relTargetLocal: localOf(in.LineTarget),
		relMask:        in.LineMask,
		gate:           gate,
	})
	return layers.DenseWithBias(ctx.In("head"), pooled, spec.NumLogits())
}

// run builds the dense context tensor, applies the message passing layers
// and reads out one vector per graph, shaped [numGraphs, hiddenFinal].
func run(ctx *context.Context, in *graphs.BatchInputs, it items) *Node {
	channels := context.GetParamOr(ctx, ParamChannels, 32)
	numLayers := context.GetParamOr(ctx, ParamNumLayers, 4)
	hiddenFinal := context.GetParamOr(ctx, ParamHiddenFinal, 128)
	residual := context.GetParamOr(ctx, ParamResidual, true)
	if it.capacity <= 0 {
		Panicf("structural message passing needs the per-graph capacity budget, got %d", it.capacity)
	}

	g := in.GraphMask.Graph()
	dtype := dtypes.Float32
	numGraphs := in.GraphMask.Shape().Dim(0)
	capacity := it.capacity
	maskF := ConvertDType(InsertAxes(it.mask, -1), dtype)

	// U[g,i,i,:]: one-hot identity on channel 0, plus the encoded features.
	diagIdx := Concatenate([]*Node{
		InsertAxes(it.graphIds, -1), InsertAxes(it.localIds, -1), InsertAxes(it.localIds, -1)}, -1)
	identity := Concatenate([]*Node{
		OnesLike(maskF),
		Zeros(g, shapes.Make(dtype, it.mask.Shape().Dim(0), channels-1))}, -1)
	diagInit := identity
	if it.features != nil {
		diagInit = Add(diagInit, it.features)
	}
	u := Scatter(diagIdx, Mul(diagInit, maskF), shapes.Make(dtype, numGraphs, capacity, capacity, channels))

	// Dense gated adjacency: A[g, target, source, c].
	relMaskF := ConvertDType(InsertAxes(it.relMask, -1), dtype)
	relIdx := Concatenate([]*Node{
		InsertAxes(it.relGraphs, -1), InsertAxes(it.relTargetLocal, -1), InsertAxes(it.relSourceLocal, -1)}, -1)
	gate := it.gate
	if gate == nil {
		gate = BroadcastToDims(relMaskF, it.relMask.Shape().Dim(0), channels)
	}
	adjacency := Scatter(relIdx, Mul(gate, relMaskF), shapes.Make(dtype, numGraphs, capacity, capacity, channels))
	degree := ReduceAndKeep(Scatter(relIdx, relMaskF, shapes.Make(dtype, numGraphs, capacity, capacity, 1)), ReduceSum, 2)

	// Pairwise validity mask, for normalization and masked readout.
	itemMaskDense := denseItemMask(it, numGraphs)                               // [numGraphs, cap] bool
	pairMask := And(InsertAxes(itemMaskDense, -1), InsertAxes(itemMaskDense, 1)) // [numGraphs, cap, cap]

	for layer := range numLayers {
		layerCtx := ctx.Inf("layer_%d", layer)
		transformed := layers.DenseWithBias(layerCtx.In("transform"), u, channels)
		aggregated := Einsum("gijc,gjkc->gikc", adjacency, transformed)
		aggregated = Div(aggregated, MaxScalar(degree, 1))
		update := layers.DenseWithBias(layerCtx.In("update"), Concatenate([]*Node{transformed, aggregated}, -1), channels)
		update = activations.ApplyFromContext(layerCtx, update)
		if residual {
			u = Add(u, update)
		} else {
			u = update
		}
		u = layers.MaskedNormalizeFromContext(layerCtx.In("normalization"), u, pairMask)
	}

	// Per-item features from the context tensor: its own row's diagonal
	// entry, plus masked mean and max over the row.
	rows := Iota(g, shapes.Make(dtypes.Int32, capacity, capacity), 0)
	cols := Iota(g, shapes.Make(dtypes.Int32, capacity, capacity), 1)
	eye := ConvertDType(Equal(rows, cols), dtype)
	eye = InsertAxes(InsertAxes(eye, 0), -1) // [1, cap, cap, 1]
	diag := ReduceSum(Mul(u, eye), 2)
	rowMean := MaskedReduceMean(u, pairMask, 2)
	rowMax := MaskedReduceMax(u, BroadcastToShape(InsertAxes(pairMask, -1), u.Shape()), 2)
	rowMax = Where(BroadcastToShape(InsertAxes(itemMaskDense, -1), rowMax.Shape()), rowMax, ZerosLike(rowMax))

	itemStates := Concatenate([]*Node{diag, rowMean, rowMax}, -1) // [numGraphs, cap, 3*channels]
	itemStates = layers.DenseWithBias(ctx.In("item_head"), itemStates, hiddenFinal)
	itemStates = activations.ApplyFromContext(ctx, itemStates)
	itemStates = layers.DropoutFromContext(ctx, itemStates)
	return MaskedReduceMean(itemStates, itemMaskDense, 1)
}

// denseItemMask scatters the flat item mask into [numGraphs, capacity].
func denseItemMask(it items, numGraphs int) *Node {
	idx := Concatenate([]*Node{InsertAxes(it.graphIds, -1), InsertAxes(it.localIds, -1)}, -1)
	maskF := ConvertDType(InsertAxes(it.mask, -1), dtypes.Float32)
	dense := Scatter(idx, maskF, shapes.Make(dtypes.Float32, numGraphs, it.capacity, 1))
	dense = Squeeze(dense, -1)
	return GreaterThan(dense, ZerosLike(dense))
}
