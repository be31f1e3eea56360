package deepergcn

import (
	"strings"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"

	"github.com/gomlx/molgraphs/datasets"
	"github.com/gomlx/molgraphs/encoders"
	"github.com/gomlx/molgraphs/graphs"
)

// ModelGraph is the model function for train.NewTrainer: a DeeperGCN stack
// over the batch's node graph, returning the per-graph logits.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	dsSpec := spec.(*datasets.Spec)
	in := dsSpec.Layout().SplitInputs(inputs)
	logits := Predict(ctx.In("model"), dsSpec, in)
	return []*Node{logits}
}

// Predict encodes the node/edge features, runs the residual convolution
// stack and pools node states per graph. Returns logits shaped
// [maxGraphs, numLogits].
func Predict(ctx *context.Context, spec *datasets.Spec, in *graphs.BatchInputs) *Node {
	hiddenDim := context.GetParamOr(ctx, ParamHiddenDim, 256)
	numLayers := context.GetParamOr(ctx, ParamNumLayers, 7)

	h := encoders.Features(ctx.In("node_encoder"), in.NodeFeatures, spec.NodeVocab, hiddenDim)
	h = stack(ctx, h, convInputs{
		source:   in.EdgeSource,
		target:   in.EdgeTarget,
		mask:     in.EdgeMask,
		nodeMask: in.NodeMask,
		features: in.EdgeFeatures,
		vocab:    spec.EdgeVocab,
		basis:    in.DistBasis,
	}, hiddenDim, numLayers)

	pooled := Readout(ctx, h, spec, in)
	return layers.DenseWithBias(ctx.In("head"), pooled, spec.NumLogits())
}

// convInputs carries the adjacency and per-edge features one convolution
// stack operates on.
type convInputs struct {
	source, target, mask *Node
	nodeMask             *Node
	features             *Node // raw categorical or continuous edge features
	vocab                []int
	basis                *Node // raw basis expansion, embedded per layer
}

// stack runs numLayers convolution blocks in the "res+" ordering: the first
// convolution is applied raw, the following ones as
// h = h + conv(dropout(act(norm(h)))), with a final normalization,
// activation and dropout.
func stack(ctx *context.Context, h *Node, in convInputs, hiddenDim, numLayers int) *Node {
	var basisEmb *encoders.BasisEmbedding
	if in.basis != nil {
		basisEmb = NewBasisEmbeddingFromContext(ctx)
	}
	conv := func(layerCtx *context.Context, x *Node) *Node {
		var edgeFeatures *Node
		if in.features != nil {
			edgeFeatures = encoders.Features(layerCtx.In("edge_encoder"), in.features, in.vocab, hiddenDim)
		}
		var basis *Node
		if basisEmb != nil {
			basis = basisEmb.Apply(layerCtx, in.basis, hiddenDim)
		}
		return GENConv(layerCtx.In("conv"), x, in.source, in.target, in.mask, edgeFeatures, basis)
	}

	for layer := range numLayers {
		layerCtx := ctx.Inf("layer_%d", layer)
		if layer == 0 {
			h = conv(layerCtx, h)
			continue
		}
		x := layers.MaskedNormalizeFromContext(layerCtx.In("normalization"), h, in.nodeMask)
		x = activations.ApplyFromContext(layerCtx, x)
		x = layers.DropoutFromContext(layerCtx, x)
		h = Add(h, conv(layerCtx, x))
	}
	h = layers.MaskedNormalizeFromContext(ctx.In("final_normalization"), h, in.nodeMask)
	h = activations.ApplyFromContext(ctx, h)
	return layers.DropoutFromContext(ctx, h)
}

// NewBasisEmbeddingFromContext builds the basis embedding chain from the
// ParamBasis* hyperparameters.
func NewBasisEmbeddingFromContext(ctx *context.Context) *encoders.BasisEmbedding {
	return encoders.NewBasisEmbedding(ctx, encoders.BasisConfig{
		Global:     context.GetParamOr(ctx, ParamBasisGlobal, true),
		Local:      context.GetParamOr(ctx, ParamBasisLocal, true),
		Bottleneck: context.GetParamOr(ctx, ParamBasisBottleneck, 0),
	})
}

// Readout pools the node states per graph according to ParamReadout,
// returning [numGraphs, k*dim] with k the number of pooling types. Mean and
// sum pool over the flat node list; max rebuilds a dense per-graph layout
// from the local node indices.
func Readout(ctx *context.Context, h *Node, spec *datasets.Spec, in *graphs.BatchInputs) *Node {
	poolTypes := context.GetParamOr(ctx, ParamReadout, "mean")
	g := h.Graph()
	dtype := h.DType()
	dim := h.Shape().Dim(-1)
	numGraphs := in.GraphMask.Shape().Dim(0)
	maskF := ConvertDType(InsertAxes(in.NodeMask, -1), dtype)
	indices := InsertAxes(in.NodeGraphs, -1)
	sums := ScatterAdd(Zeros(g, shapes.Make(dtype, numGraphs, dim)), indices, Mul(h, maskF), false, false)
	counts := ScatterAdd(Zeros(g, shapes.Make(dtype, numGraphs, 1)), indices, maskF, false, false)

	var parts []*Node
	for _, poolType := range strings.Split(poolTypes, "|") {
		switch poolType {
		case "mean":
			parts = append(parts, Div(sums, MaxScalar(counts, 1)))
		case "sum":
			parts = append(parts, sums)
		case "max":
			dense, denseMask := DensePerGraph(h, in, spec.Budgets.MaxNodesPerGraph)
			maxed := MaskedReduceMax(dense, BroadcastToShape(denseMask, dense.Shape()), 1)
			anyNode := ReduceMax(denseMask, 1)
			maxed = Where(BroadcastToShape(anyNode, maxed.Shape()), maxed, ZerosLike(maxed))
			parts = append(parts, maxed)
		default:
			Panicf("invalid value for %q: got %q, valid values are mean, sum and max, or a combination separated by '|'",
				ParamReadout, poolType)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return Concatenate(parts, -1)
}

// DensePerGraph scatters the flat node states into a dense
// [numGraphs, maxNodesPerGraph, dim] layout, keyed by (graph, local index).
// It also returns the dense validity mask, shaped
// [numGraphs, maxNodesPerGraph, 1]. Padded slots carry zeros.
func DensePerGraph(h *Node, in *graphs.BatchInputs, maxNodesPerGraph int) (dense, mask *Node) {
	if maxNodesPerGraph <= 0 {
		Panicf("dense per-graph layout needs the per-graph node budget, got %d", maxNodesPerGraph)
	}
	g := h.Graph()
	dtype := h.DType()
	dim := h.Shape().Dim(-1)
	numGraphs := in.GraphMask.Shape().Dim(0)
	maskF := ConvertDType(InsertAxes(in.NodeMask, -1), dtype)
	// Padded nodes all scatter into slot (0, 0) with zeroed updates, which
	// only the mask distinguishes from a real empty contribution.
	indices := Concatenate([]*Node{InsertAxes(in.NodeGraphs, -1), InsertAxes(in.NodeLocal, -1)}, -1)
	dense = Scatter(indices, Mul(h, maskF), shapes.Make(dtype, numGraphs, maxNodesPerGraph, dim))
	maskDense := Scatter(indices, maskF, shapes.Make(dtype, numGraphs, maxNodesPerGraph, 1))
	mask = GreaterThan(maskDense, ZerosLike(maskDense))
	return
}
