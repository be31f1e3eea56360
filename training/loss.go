package training

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/molgraphs/datasets"
)

// LossFromSpec picks the loss for the dataset's task type. Labels are always
// a pair [targets, mask]: the mask marks which (graph, task) entries are
// labeled, and the loss is averaged over labeled entries only, so padded
// graphs and missing targets don't shrink the gradient.
func LossFromSpec(spec *datasets.Spec) train.LossFn {
	switch spec.TaskType {
	case datasets.TaskBinary:
		return binaryLoss
	case datasets.TaskMultiClass:
		return multiClassLoss
	case datasets.TaskRegression:
		return regressionLoss
	default:
		Panicf("unknown task type %q in dataset %q", spec.TaskType, spec.Name)
	}
	return nil
}

// binaryLoss is a sigmoid cross-entropy on logits, one independent binary
// task per column.
func binaryLoss(labels, predictions []*Node) *Node {
	perEntry := losses.BinaryCrossentropyLogits(labels, predictions)
	return maskedMeanLoss(perEntry, labels[1])
}

// multiClassLoss is a softmax cross-entropy on logits. Targets arrive as
// float32 [batch, 1] (the batch layout is task-type agnostic) and are cast
// back to the class indices.
func multiClassLoss(labels, predictions []*Node) *Node {
	targets := ConvertDType(labels[0], dtypes.Int32)
	mask := Reshape(labels[1], labels[1].Shape().Dim(0))
	perExample := losses.SparseCategoricalCrossEntropyLogits([]*Node{targets, mask}, predictions)
	return maskedMeanLoss(perExample, mask)
}

// regressionLoss is the mean absolute error on the standardized targets.
func regressionLoss(labels, predictions []*Node) *Node {
	perEntry := Abs(Sub(labels[0], predictions[0]))
	return maskedMeanLoss(perEntry, labels[1])
}

func maskedMeanLoss(values, mask *Node) *Node {
	maskF := ConvertDType(mask, values.DType())
	sum := ReduceAllSum(Mul(values, maskF))
	count := ReduceAllSum(maskF)
	return Div(sum, MaxScalar(count, 1))
}
