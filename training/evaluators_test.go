package training

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/molgraphs/datasets"
)

func TestROCAUC(t *testing.T) {
	scores := []float64{0.9, 0.8, 0.2, 0.1}
	perfect := []bool{true, true, false, false}
	assert.InDelta(t, 1.0, rocAUC(scores, perfect), 1e-6)

	reversed := []bool{false, false, true, true}
	assert.InDelta(t, 0.0, rocAUC(scores, reversed), 1e-6)

	// The helper must not reorder the caller's slices.
	assert.Equal(t, []float64{0.9, 0.8, 0.2, 0.1}, scores)
}

func TestAveragePrecision(t *testing.T) {
	scores := []float64{0.9, 0.8, 0.7, 0.6}
	assert.InDelta(t, 1.0, averagePrecision(scores, []bool{true, true, false, false}), 1e-6)

	// Hits at ranks 1 and 3: (1/1 + 2/3) / 2.
	assert.InDelta(t, 5.0/6.0, averagePrecision(scores, []bool{true, false, true, false}), 1e-6)

	assert.Equal(t, 0.0, averagePrecision(scores, []bool{false, false, false, false}))
}

func TestBinaryMetrics(t *testing.T) {
	spec := &datasets.Spec{TaskType: datasets.TaskBinary, NumTasks: 1}
	c := &collected{
		logits:  [][]float64{{2}, {-2}, {1}, {-1}},
		targets: [][]float64{{1}, {0}, {1}, {0}},
		mask:    [][]bool{{true}, {true}, {true}, {true}},
	}
	m := binaryMetrics(spec, c)
	assert.InDelta(t, 1.0, m["accuracy"], 1e-6)
	assert.InDelta(t, 1.0, m["roc_auc"], 1e-6)
	assert.InDelta(t, 1.0, m["avg_precision"], 1e-6)
}

func TestBinaryMetricsSingleClass(t *testing.T) {
	// With only positives labeled, ranking metrics are undefined and omitted.
	spec := &datasets.Spec{TaskType: datasets.TaskBinary, NumTasks: 1}
	c := &collected{
		logits:  [][]float64{{2}, {-1}},
		targets: [][]float64{{1}, {1}},
		mask:    [][]bool{{true}, {true}},
	}
	m := binaryMetrics(spec, c)
	assert.InDelta(t, 0.5, m["accuracy"], 1e-6)
	assert.NotContains(t, m, "roc_auc")
	assert.NotContains(t, m, "avg_precision")
}

func TestMultiClassMetrics(t *testing.T) {
	c := &collected{
		logits:  [][]float64{{0.1, 2.0, 0.3}, {3.0, 0.1, 0.2}, {0.0, 0.0, 5.0}},
		targets: [][]float64{{1}, {2}, {2}},
		mask:    [][]bool{{true}, {true}, {false}},
	}
	m := multiClassMetrics(c)
	assert.InDelta(t, 0.5, m["accuracy"], 1e-6)
}

func TestRegressionMetrics(t *testing.T) {
	// Standardized with mean 2, std 3: a unit error in standardized space is
	// an error of 3 on the original scale.
	spec := &datasets.Spec{
		TaskType:   datasets.TaskRegression,
		NumTasks:   1,
		TargetMean: []float64{2},
		TargetStd:  []float64{3},
	}
	c := &collected{
		logits:  [][]float64{{1}, {1}},
		targets: [][]float64{{0}, {1}},
		mask:    [][]bool{{true}, {true}},
	}
	m := regressionMetrics(spec, c)
	assert.InDelta(t, 1.5, m["mae"], 1e-6)
	assert.InDelta(t, math.Sqrt(4.5), m["rmse"], 1e-6)
}

// TestEvaluate runs the full collection path with a constant-zero model.
func TestEvaluate(t *testing.T) {
	spec, samples := datasets.NewSynthetic(datasets.SyntheticOptions{
		NumSamples: 16,
		TaskType:   datasets.TaskBinary,
	})
	splits, err := datasets.Prepare(spec, nil, 4, samples[:8], samples[8:12], samples[12:])
	require.NoError(t, err)

	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	modelFn := func(_ *context.Context, specAny any, inputs []*Node) []*Node {
		s := specAny.(*datasets.Spec)
		g := inputs[0].Graph()
		return []*Node{Zeros(g, shapes.Make(dtypes.Float32, s.Budgets.MaxGraphs, s.NumLogits()))}
	}
	evals, err := Evaluate(backend, ctx, modelFn, splits.Spec, splits.Valid, splits.Test)
	require.NoError(t, err)
	require.Len(t, evals, 2)
	assert.Equal(t, "valid", evals[0].Dataset)
	assert.Equal(t, "test", evals[1].Dataset)
	assert.Contains(t, evals[0].Metrics, "accuracy")
}

func TestEvaluationString(t *testing.T) {
	e := Evaluation{Dataset: "valid", Metrics: map[string]float64{"roc_auc": 0.9, "accuracy": 0.8}}
	assert.Equal(t, "valid: accuracy=0.8000, roc_auc=0.9000", e.String())
}
