package training

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/gomlx/molgraphs/datasets"
)

// Evaluation holds the host-side metrics of one dataset split.
type Evaluation struct {
	Dataset string
	Metrics map[string]float64
}

// String formats the metrics sorted by name, for logging.
func (e Evaluation) String() string {
	names := make([]string, 0, len(e.Metrics))
	for name := range e.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.4f", name, e.Metrics[name]))
	}
	return fmt.Sprintf("%s: %s", e.Dataset, strings.Join(parts, ", "))
}

// collected holds the model outputs of a full pass over a dataset, one row
// per graph that carries at least one label.
type collected struct {
	logits  [][]float64
	targets [][]float64
	mask    [][]bool
}

// Evaluate runs the model over the datasets and computes the task metrics on
// the host: ROC-AUC and average precision for binary tasks (macro-averaged
// over the labeled tasks), accuracy for multi-class, MAE and RMSE on the
// original target scale for regression.
//
// These ranking metrics need the whole split's predictions at once, which is
// why they don't fit the per-batch metrics of the trainer.
func Evaluate(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn,
	spec *datasets.Spec, dss ...train.Dataset) ([]Evaluation, error) {
	exec := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, inputs []*Node) *Node {
		return modelFn(ctx, spec, inputs)[0]
	})
	evaluations := make([]Evaluation, 0, len(dss))
	for _, ds := range dss {
		c, err := collectPredictions(exec, ds)
		if err != nil {
			return nil, errors.WithMessagef(err, "while evaluating %q", ds.Name())
		}
		evaluations = append(evaluations, Evaluation{
			Dataset: ds.Name(),
			Metrics: taskMetrics(spec, c),
		})
	}
	return evaluations, nil
}

func collectPredictions(exec *context.Exec, ds train.Dataset) (*collected, error) {
	ds.Reset()
	c := &collected{}
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(inputs))
		for _, t := range inputs {
			args = append(args, t)
		}
		logitsT := exec.Call(args...)[0]
		numGraphs := logitsT.Shape().Dim(0)
		numLogits := logitsT.Shape().Dim(1)
		numTasks := labels[0].Shape().Dim(1)
		logits := tensors.CopyFlatData[float32](logitsT)
		targets := tensors.CopyFlatData[float32](labels[0])
		mask := tensors.CopyFlatData[bool](labels[1])
		for g := 0; g < numGraphs; g++ {
			labeled := false
			for t := 0; t < numTasks; t++ {
				labeled = labeled || mask[g*numTasks+t]
			}
			if !labeled {
				continue // Padded graph or fully unlabeled.
			}
			rowLogits := make([]float64, numLogits)
			for i := range rowLogits {
				rowLogits[i] = float64(logits[g*numLogits+i])
			}
			rowTargets := make([]float64, numTasks)
			rowMask := make([]bool, numTasks)
			for t := 0; t < numTasks; t++ {
				rowTargets[t] = float64(targets[g*numTasks+t])
				rowMask[t] = mask[g*numTasks+t]
			}
			c.logits = append(c.logits, rowLogits)
			c.targets = append(c.targets, rowTargets)
			c.mask = append(c.mask, rowMask)
		}
	}
	return c, nil
}

func taskMetrics(spec *datasets.Spec, c *collected) map[string]float64 {
	switch spec.TaskType {
	case datasets.TaskBinary:
		return binaryMetrics(spec, c)
	case datasets.TaskMultiClass:
		return multiClassMetrics(c)
	case datasets.TaskRegression:
		return regressionMetrics(spec, c)
	}
	return nil
}

// binaryMetrics macro-averages ROC-AUC and average precision over the tasks
// that have both a positive and a negative labeled example, the usual
// convention for sparsely labeled multi-task molecular benchmarks.
func binaryMetrics(spec *datasets.Spec, c *collected) map[string]float64 {
	var aucSum, apSum float64
	var scored int
	var correct, labeled int
	for t := 0; t < spec.NumTasks; t++ {
		var scores []float64
		var classes []bool
		for i := range c.logits {
			if !c.mask[i][t] {
				continue
			}
			scores = append(scores, c.logits[i][t])
			classes = append(classes, c.targets[i][t] > 0.5)
			labeled++
			if (c.logits[i][t] > 0) == (c.targets[i][t] > 0.5) {
				correct++
			}
		}
		if !hasBothClasses(classes) {
			continue
		}
		aucSum += rocAUC(scores, classes)
		apSum += averagePrecision(scores, classes)
		scored++
	}
	m := map[string]float64{
		"accuracy": ratio(correct, labeled),
	}
	if scored > 0 {
		m["roc_auc"] = aucSum / float64(scored)
		m["avg_precision"] = apSum / float64(scored)
	}
	return m
}

func multiClassMetrics(c *collected) map[string]float64 {
	var correct, labeled int
	for i := range c.logits {
		if !c.mask[i][0] {
			continue
		}
		best := 0
		for j, v := range c.logits[i] {
			if v > c.logits[i][best] {
				best = j
			}
		}
		labeled++
		if best == int(c.targets[i][0]) {
			correct++
		}
	}
	return map[string]float64{"accuracy": ratio(correct, labeled)}
}

// regressionMetrics reports errors on the original target scale, undoing the
// training-time standardization.
func regressionMetrics(spec *datasets.Spec, c *collected) map[string]float64 {
	var absSum, sqSum float64
	var labeled int
	for t := 0; t < spec.NumTasks; t++ {
		mean, std := 0.0, 1.0
		if len(spec.TargetMean) == spec.NumTasks {
			mean, std = spec.TargetMean[t], spec.TargetStd[t]
		}
		for i := range c.logits {
			if !c.mask[i][t] {
				continue
			}
			pred := c.logits[i][t]*std + mean
			target := c.targets[i][t]*std + mean
			diff := pred - target
			absSum += math.Abs(diff)
			sqSum += diff * diff
			labeled++
		}
	}
	if labeled == 0 {
		return map[string]float64{"mae": 0, "rmse": 0}
	}
	return map[string]float64{
		"mae":  absSum / float64(labeled),
		"rmse": math.Sqrt(sqSum / float64(labeled)),
	}
}

// rocAUC integrates the ROC curve. Mutates copies, not the inputs.
func rocAUC(scores []float64, classes []bool) float64 {
	y := append([]float64(nil), scores...)
	labels := append([]bool(nil), classes...)
	stat.SortWeightedLabeled(y, labels, nil)
	tpr, fpr := stat.ROC(nil, y, labels, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// averagePrecision is the mean of the precision at each positive example,
// with examples ranked by decreasing score.
func averagePrecision(scores []float64, classes []bool) float64 {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	var hits int
	var sum float64
	for rank, idx := range order {
		if classes[idx] {
			hits++
			sum += float64(hits) / float64(rank+1)
		}
	}
	if hits == 0 {
		return 0
	}
	return sum / float64(hits)
}

func hasBothClasses(classes []bool) bool {
	var pos, neg bool
	for _, c := range classes {
		pos = pos || c
		neg = neg || !c
	}
	return pos && neg
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
