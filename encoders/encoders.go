// Package encoders embeds raw graph features into the model's hidden space:
// categorical atom/bond columns as summed embeddings, continuous features as
// linear projections, and radial/angular basis expansions through a shared or
// per-layer embedding chain.
package encoders

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
)

// CategoricalSum embeds each categorical column separately and sums the
// embeddings. cats is shaped [n, len(vocab)] with integer categories.
func CategoricalSum(ctx *context.Context, cats *Node, vocab []int, dim int) *Node {
	if cats.Rank() != 2 || cats.Shape().Dimensions[1] != len(vocab) {
		Panicf("categorical features shaped %s don't match %d vocabulary columns",
			cats.Shape(), len(vocab))
	}
	var sum *Node
	for c, size := range vocab {
		col := Slice(cats, AxisRange(), AxisElem(c))
		emb := layers.Embedding(ctx.Inf("col_%d", c), col, dtypes.Float32, size, dim)
		if sum == nil {
			sum = emb
		} else {
			sum = Add(sum, emb)
		}
	}
	return sum
}

// Continuous projects continuous features to dim with a learnable linear map.
func Continuous(ctx *context.Context, x *Node, dim int) *Node {
	return layers.DenseWithBias(ctx, x, dim)
}

// Features encodes a feature tensor that is either categorical (vocab
// non-empty, integer dtype) or continuous.
func Features(ctx *context.Context, x *Node, vocab []int, dim int) *Node {
	if len(vocab) > 0 {
		return CategoricalSum(ctx, x, vocab, dim)
	}
	return Continuous(ctx, x, dim)
}

// BasisConfig selects how basis expansions (distances, angles) are embedded
// before entering the message function.
//
// With Global, one linear map shared by all layers embeds the raw basis; with
// Local, each layer adds its own linear map. Bottleneck inserts a small
// intermediate width between the shared and the per-layer map, cutting the
// parameter count when both are enabled.
type BasisConfig struct {
	Global, Local bool
	Bottleneck    int
}

// Validate panics on configurations with no embedding at all: the raw basis
// never matches the hidden width.
func (cfg BasisConfig) Validate() {
	if !cfg.Global && !cfg.Local {
		Panicf("basis embedding needs at least one of global or local maps")
	}
	if cfg.Bottleneck > 0 && !(cfg.Global && cfg.Local) {
		Panicf("a basis bottleneck requires both global and local maps")
	}
}

// BasisEmbedding applies the configured chain. The shared map lives in the
// context scope given at construction; the per-layer maps in the scope given
// to each Apply call.
type BasisEmbedding struct {
	cfg       BasisConfig
	sharedCtx *context.Context
	shared    map[*Node]*Node
}

// NewBasisEmbedding creates the embedding chain. ctx is the model-level
// scope holding the shared map.
func NewBasisEmbedding(ctx *context.Context, cfg BasisConfig) *BasisEmbedding {
	cfg.Validate()
	return &BasisEmbedding{
		cfg:       cfg,
		sharedCtx: ctx.In("basis_global"),
		shared:    make(map[*Node]*Node),
	}
}

// Apply embeds the raw basis to dim features for one layer. ctx is the
// layer's scope. The shared map output is computed once per distinct basis
// tensor and reused across layers.
func (b *BasisEmbedding) Apply(ctx *context.Context, basis *Node, dim int) *Node {
	x := basis
	if b.cfg.Global {
		if cached, ok := b.shared[basis]; ok {
			x = cached
		} else {
			width := dim
			if b.cfg.Bottleneck > 0 {
				width = b.cfg.Bottleneck
			}
			x = layers.DenseWithBias(b.sharedCtx.Reuse().Checked(false), basis, width)
			b.shared[basis] = x
		}
	}
	if b.cfg.Local {
		x = layers.DenseWithBias(ctx.In("basis_local"), x, dim)
	}
	return x
}
