package training

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/molgraphs/datasets"
)

// TrainMetricsFromSpec returns the metrics computed on the training batches:
// a moving average, cheap to keep per step.
func TrainMetricsFromSpec(spec *datasets.Spec) []metrics.Interface {
	fn, metricType := batchMetricFromSpec(spec)
	if fn == nil {
		return nil
	}
	return []metrics.Interface{
		metrics.NewExponentialMovingAverageMetric(
			"Moving Average "+metricType, "~"+metricType, metricType, fn, nil, 0.01),
	}
}

// EvalMetricsFromSpec returns the metrics computed during evaluation passes:
// plain means over the whole dataset.
func EvalMetricsFromSpec(spec *datasets.Spec) []metrics.Interface {
	fn, metricType := batchMetricFromSpec(spec)
	if fn == nil {
		return nil
	}
	return []metrics.Interface{
		metrics.NewMeanMetric("Mean "+metricType, "#"+metricType, metricType, fn, nil),
	}
}

func batchMetricFromSpec(spec *datasets.Spec) (fn metrics.BaseMetricGraph, metricType string) {
	switch spec.TaskType {
	case datasets.TaskBinary:
		return binaryAccuracyGraph, "accuracy"
	case datasets.TaskMultiClass:
		return multiClassAccuracyGraph, "accuracy"
	case datasets.TaskRegression:
		// Mean absolute error on the standardized scale; the original-scale
		// errors are reported by the host-side evaluators.
		return maeGraph, "mae"
	}
	return nil, ""
}

func binaryAccuracyGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	logits := predictions[0]
	positive := GreaterThan(labels[0], MulScalar(OnesLike(labels[0]), 0.5))
	predicted := GreaterThan(logits, ZerosLike(logits))
	correct := ConvertDType(Equal(predicted, positive), logits.DType())
	return maskedMeanLoss(correct, labels[1])
}

func multiClassAccuracyGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	logits := predictions[0]
	predicted := ArgMax(logits, -1, dtypes.Int32)
	targets := Reshape(ConvertDType(labels[0], dtypes.Int32), predicted.Shape().Dimensions...)
	mask := Reshape(labels[1], predicted.Shape().Dimensions...)
	correct := ConvertDType(Equal(predicted, targets), logits.DType())
	return maskedMeanLoss(correct, mask)
}

func maeGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	return regressionLoss(labels, predictions)
}
