package encoders

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeaturesCategorical(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, cats *Node) *Node {
		return Features(ctx, cats, []int{4, 3}, 5)
	})
	out := exec.Call([][]int32{{0, 1}, {3, 2}, {1, 0}})[0]
	assert.Equal(t, []int{3, 5}, out.Shape().Dimensions)
}

func TestFeaturesContinuous(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return Features(ctx, x, nil, 5)
	})
	out := exec.Call([][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}})[0]
	assert.Equal(t, []int{3, 5}, out.Shape().Dimensions)
}

func TestCategoricalSumBadShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, cats *Node) *Node {
		return CategoricalSum(ctx, cats, []int{4}, 5)
	})
	require.Panics(t, func() { exec.Call([][]int32{{0, 1}, {3, 2}}) })
}

func TestBasisConfigValidate(t *testing.T) {
	require.Panics(t, func() { BasisConfig{}.Validate() })
	require.Panics(t, func() { BasisConfig{Global: true, Bottleneck: 4}.Validate() })
	require.NotPanics(t, func() { BasisConfig{Global: true}.Validate() })
	require.NotPanics(t, func() { BasisConfig{Global: true, Local: true, Bottleneck: 4}.Validate() })
}

func TestBasisEmbedding(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, cfg := range []BasisConfig{
		{Global: true},
		{Local: true},
		{Global: true, Local: true, Bottleneck: 2},
	} {
		ctx := context.New()
		exec := context.NewExec(backend, ctx, func(ctx *context.Context, basis *Node) *Node {
			emb := NewBasisEmbedding(ctx, cfg)
			// The shared map is reused across layers, the local maps are not.
			a := emb.Apply(ctx.In("layer_0"), basis, 6)
			b := emb.Apply(ctx.In("layer_1"), basis, 6)
			return Add(a, b)
		})
		out := exec.Call([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0.5, 0.5, 0}})[0]
		assert.Equal(t, []int{4, 6}, out.Shape().Dimensions)
	}
}
