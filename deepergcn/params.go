package deepergcn

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
)

var (
	// ParamHiddenDim is the context hyperparameter with the width of the node
	// hidden states. Default is 256.
	ParamHiddenDim = "gcn_hidden_dim"

	// ParamNumLayers is the context hyperparameter with the number of
	// residual convolution blocks. Default is 7.
	ParamNumLayers = "gcn_num_layers"

	// ParamAggregation selects how incoming messages are reduced per node:
	// "softmax" (temperature-weighted), "power" (generalized mean), "mean",
	// "sum" or "max". Default is "softmax".
	ParamAggregation = "gcn_aggregation"

	// ParamLearnT makes the softmax temperature a trainable variable;
	// ParamInitT is its initial (or fixed) value. Defaults: true, 1.0.
	ParamLearnT = "gcn_learn_t"
	ParamInitT  = "gcn_init_t"

	// ParamLearnP makes the power-mean exponent trainable; ParamInitP is its
	// initial (or fixed) value. Defaults: false, 1.0.
	ParamLearnP = "gcn_learn_p"
	ParamInitP  = "gcn_init_p"

	// ParamMsgNorm enables message normalization: the aggregated message is
	// L2-normalized and rescaled to the norm of the node state.
	// ParamLearnMsgScale makes the rescaling factor trainable.
	// Defaults: false, false.
	ParamMsgNorm       = "gcn_msg_norm"
	ParamLearnMsgScale = "gcn_learn_msg_scale"

	// ParamMLPLayers is the depth of the update MLP after aggregation.
	// Default is 1, a single projection; higher values add hidden layers at
	// twice the hidden width.
	ParamMLPLayers = "gcn_mlp_layers"

	// ParamBasisModulation selects how the embedded distance/angle basis
	// enters the messages: "add", "product" or "both" (product plus the
	// unmodulated message). Default is "product".
	ParamBasisModulation = "gcn_basis_modulation"

	// ParamBasisGlobal / ParamBasisLocal / ParamBasisBottleneck configure
	// the basis embedding chain, see encoders.BasisConfig.
	// Defaults: true, true, 0.
	ParamBasisGlobal     = "gcn_emb_basis_global"
	ParamBasisLocal      = "gcn_emb_basis_local"
	ParamBasisBottleneck = "gcn_emb_bottleneck"

	// ParamReadout selects the graph-level pooling of node states: "mean",
	// "sum" or both concatenated with "mean|sum". Default is "mean".
	ParamReadout = "gcn_readout"
)

// Basis modulation modes.
const (
	ModulationAdd     = "add"
	ModulationProduct = "product"
	ModulationBoth    = "both"
)

// epsilon keeps messages strictly positive, so the power-mean aggregation
// and the softmax denominator are well defined.
const epsilon = 1e-7

// ConvConfig is the per-layer configuration of the generalized convolution,
// read from the context hyperparameters.
type ConvConfig struct {
	Aggregation   string
	LearnT        bool
	InitT         float64
	LearnP        bool
	InitP         float64
	MsgNorm       bool
	LearnMsgScale bool
	MLPLayers     int
	Modulation    string
}

// ConvConfigFromContext reads the convolution hyperparameters, with the
// original DeeperGCN defaults.
func ConvConfigFromContext(ctx *context.Context) ConvConfig {
	cfg := ConvConfig{
		Aggregation:   context.GetParamOr(ctx, ParamAggregation, "softmax"),
		LearnT:        context.GetParamOr(ctx, ParamLearnT, true),
		InitT:         context.GetParamOr(ctx, ParamInitT, 1.0),
		LearnP:        context.GetParamOr(ctx, ParamLearnP, false),
		InitP:         context.GetParamOr(ctx, ParamInitP, 1.0),
		MsgNorm:       context.GetParamOr(ctx, ParamMsgNorm, false),
		LearnMsgScale: context.GetParamOr(ctx, ParamLearnMsgScale, false),
		MLPLayers:     context.GetParamOr(ctx, ParamMLPLayers, 1),
		Modulation:    context.GetParamOr(ctx, ParamBasisModulation, ModulationProduct),
	}
	switch cfg.Aggregation {
	case "softmax", "power", "mean", "sum", "max":
	default:
		Panicf("invalid value for %q: got %q, valid values are softmax, power, mean, sum and max",
			ParamAggregation, cfg.Aggregation)
	}
	switch cfg.Modulation {
	case ModulationAdd, ModulationProduct, ModulationBoth:
	default:
		Panicf("invalid value for %q: got %q, valid values are %q, %q and %q",
			ParamBasisModulation, cfg.Modulation, ModulationAdd, ModulationProduct, ModulationBoth)
	}
	if cfg.MLPLayers < 1 {
		Panicf("%q must be at least 1, got %d", ParamMLPLayers, cfg.MLPLayers)
	}
	return cfg
}
