// Package deepergcn implements deep residual stacks of generalized graph
// convolutions (GENConv) over flat padded batches of molecular graphs, with
// optional geometric basis modulation of the messages and a line-graph
// variant that convolves over edge adjacencies.
package deepergcn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// GENConv runs one generalized convolution over a flat padded edge list.
//
//   - h: node states, shaped [maxNodes, dim].
//   - edgeSource, edgeTarget: adjacency, shaped [maxEdges], padded slots
//     pointing at node 0.
//   - edgeMask: [maxEdges] bool, off for padded slots.
//   - edgeFeatures: optional [maxEdges, dim], added to the gathered source
//     states.
//   - basis: optional [maxEdges, dim] embedded geometric basis, modulating
//     the messages per ParamBasisModulation.
//
// Messages are rectified and kept strictly positive, then reduced per target
// node with the configured aggregation. The aggregated message is added to
// the node state and passed through the update MLP.
func GENConv(ctx *context.Context, h, edgeSource, edgeTarget, edgeMask, edgeFeatures, basis *Node) *Node {
	cfg := ConvConfigFromContext(ctx)
	dim := h.Shape().Dim(-1)

	messages := Gather(h, InsertAxes(edgeSource, -1))
	if edgeFeatures != nil {
		messages = Add(messages, edgeFeatures)
	}
	if basis != nil {
		switch cfg.Modulation {
		case ModulationAdd:
			messages = Add(messages, basis)
		case ModulationProduct:
			messages = Mul(messages, basis)
		case ModulationBoth:
			messages = Add(Mul(messages, basis), messages)
		}
	}
	messages = AddScalar(activations.Relu(messages), epsilon)

	aggregated := aggregate(ctx, cfg, messages, edgeTarget, edgeMask, h.Shape().Dim(0))
	if cfg.MsgNorm {
		aggregated = messageNorm(ctx, h, aggregated, cfg.LearnMsgScale)
	}

	out := Add(h, aggregated)
	return fnn.New(ctx.In("mlp"), out, dim).
		NumHiddenLayers(cfg.MLPLayers-1, 2*dim).
		Done()
}

// aggregate reduces the per-edge messages into per-node states, shaped
// [numNodes, dim]. Padded edges contribute nothing.
func aggregate(ctx *context.Context, cfg ConvConfig, messages, edgeTarget, edgeMask *Node, numNodes int) *Node {
	g := messages.Graph()
	dtype := messages.DType()
	dim := messages.Shape().Dim(-1)
	maskF := ConvertDType(InsertAxes(edgeMask, -1), dtype)
	indices := InsertAxes(edgeTarget, -1)
	zeros := func(dims ...int) *Node { return Zeros(g, shapes.Make(dtype, dims...)) }
	scatterSum := func(values *Node) *Node {
		return ScatterAdd(zeros(numNodes, values.Shape().Dim(-1)), indices, values, false, false)
	}

	switch cfg.Aggregation {
	case "softmax":
		t := scalarParam(ctx, "temperature", cfg.InitT, cfg.LearnT, g)
		logits := Mul(messages, t)
		// The softmax ratios are invariant to a shift common to all edges of
		// a node, so a global per-channel max is enough to stabilize Exp.
		shift := StopGradient(MaskedReduceMax(logits, BroadcastToShape(InsertAxes(edgeMask, -1), logits.Shape()), 0))
		weights := Exp(Sub(logits, InsertAxes(shift, 0)))
		weights = Mul(weights, maskF)
		numerator := scatterSum(Mul(weights, messages))
		denominator := scatterSum(weights)
		return Div(numerator, MaxScalar(denominator, epsilon))

	case "power":
		p := scalarParam(ctx, "power", cfg.InitP, cfg.LearnP, g)
		p = ClipScalar(p, 1e-2, 1e1)
		powered := Pow(messages, BroadcastToDims(p, messages.Shape().Dimensions...))
		powered = Mul(powered, maskF)
		count := MaxScalar(scatterSum(maskF), 1)
		mean := Div(scatterSum(powered), count)
		mean = ClipScalar(mean, epsilon, 1e10)
		inv := Inverse(p)
		return Pow(mean, BroadcastToDims(inv, numNodes, dim))

	case "mean":
		count := MaxScalar(scatterSum(maskF), 1)
		return Div(scatterSum(Mul(messages, maskF)), count)

	case "sum":
		return scatterSum(Mul(messages, maskF))

	case "max":
		// Messages are strictly positive, so zero-initialized maxima ignore
		// the mask-zeroed padded edges, and nodes without edges aggregate to
		// zero like the other reductions.
		return ScatterMax(zeros(numNodes, dim), indices, Mul(messages, maskF), false, false)
	}
	Panicf("aggregation %q not implemented", cfg.Aggregation)
	return nil
}

// scalarParam returns the aggregation scalar as a trainable variable or a
// constant.
func scalarParam(ctx *context.Context, name string, init float64, learnable bool, g *Graph) *Node {
	if !learnable {
		return Scalar(g, dtypes.Float32, init)
	}
	v := ctx.VariableWithValue(name, float32(init))
	return v.ValueGraph(g)
}

// messageNorm rescales the aggregated message to the L2 norm of the node
// state, following the message normalization of DeeperGCN.
func messageNorm(ctx *context.Context, h, aggregated *Node, learnScale bool) *Node {
	g := h.Graph()
	normalized := L2NormalizeWithEpsilon(aggregated, epsilon, -1)
	hNorm := InsertAxes(L2Norm(h, -1), -1)
	scale := scalarParam(ctx.In("msg_norm"), "scale", 1.0, learnScale, g)
	return Mul(Mul(normalized, hNorm), scale)
}
