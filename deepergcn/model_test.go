package deepergcn

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/molgraphs/datasets"
	"github.com/gomlx/molgraphs/transforms"
)

func testSplits(t *testing.T, taskType string, transform transforms.Transform) *datasets.Splits {
	spec, samples := datasets.NewSynthetic(datasets.SyntheticOptions{
		NumSamples: 32,
		TaskType:   taskType,
	})
	splits, err := datasets.Prepare(spec, transform, 8, samples[:16], samples[16:24], samples[24:])
	require.NoError(t, err)
	return splits
}

// runModel executes one batch through the model function and returns the
// logits tensor.
func runModel(t *testing.T, ctx *context.Context, modelFn func(*context.Context, any, []*Node) []*Node,
	splits *datasets.Splits) *tensors.Tensor {
	backend := graphtest.BuildTestBackend()
	spec, inputs, _, err := splits.Train.Yield()
	require.NoError(t, err)

	exec := context.NewExec(backend, ctx, func(ctx *context.Context, in []*Node) *Node {
		return modelFn(ctx, spec, in)[0]
	})
	args := make([]any, 0, len(inputs))
	for _, tensor := range inputs {
		args = append(args, tensor)
	}
	return exec.Call(args...)[0]
}

func requireFinite(t *testing.T, logits *tensors.Tensor) {
	for _, v := range tensors.CopyFlatData[float32](logits) {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0),
			"logits contain non-finite value %v", v)
	}
}

func TestModelGraph(t *testing.T) {
	for _, aggregation := range []string{"softmax", "power", "mean", "sum", "max"} {
		t.Run(aggregation, func(t *testing.T) {
			splits := testSplits(t, datasets.TaskBinary, nil)
			ctx := context.New()
			ctx.SetParams(map[string]any{
				ParamHiddenDim:   16,
				ParamNumLayers:   2,
				ParamAggregation: aggregation,
			})
			logits := runModel(t, ctx, ModelGraph, splits)
			require.Equal(t, []int{8, splits.Spec.NumLogits()}, logits.Shape().Dimensions)
			requireFinite(t, logits)
		})
	}
}

func TestModelGraphReadouts(t *testing.T) {
	transform := transforms.Config{
		DistanceSource: transforms.DistanceCoords,
		BasisType:      "gaussian",
		DistBasisDim:   4,
		MaxDistance:    4.0,
	}.Build()
	for _, readout := range []string{"mean", "sum", "max"} {
		t.Run(readout, func(t *testing.T) {
			splits := testSplits(t, datasets.TaskRegression, transform)
			ctx := context.New()
			ctx.SetParams(map[string]any{
				ParamHiddenDim: 16,
				ParamNumLayers: 2,
				ParamReadout:   readout,
			})
			logits := runModel(t, ctx, ModelGraph, splits)
			require.Equal(t, []int{8, 1}, logits.Shape().Dimensions)
			requireFinite(t, logits)
		})
	}
}

func TestLineGraphModelGraph(t *testing.T) {
	transform := transforms.Config{
		DistanceSource:    transforms.DistanceCoords,
		LineGraphDistance: true,
		LineGraphAngle:    true,
		BasisType:         "gaussian",
		DistBasisDim:      4,
		AngleBasisDim:     3,
		MaxDistance:       4.0,
	}.Build()
	splits := testSplits(t, datasets.TaskMultiClass, transform)
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamHiddenDim: 16,
		ParamNumLayers: 2,
	})
	logits := runModel(t, ctx, LineGraphModelGraph, splits)
	require.Equal(t, []int{8, datasets.NumSyntheticClasses}, logits.Shape().Dimensions)
	requireFinite(t, logits)
}
