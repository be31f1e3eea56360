// Package datasets loads molecular graph datasets (OGB-style gzip CSV
// directories or synthetic generators), applies featurization transforms,
// and serves them as padded fixed-shape batches through the train.Dataset
// interface.
package datasets

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/gomlx/molgraphs/graphs"
)

// Task types.
const (
	TaskBinary     = "binary_classification" // one logit per task, possibly many tasks
	TaskMultiClass = "multi_class"           // single task, NumClasses logits
	TaskRegression = "regression"
)

// Spec describes a loaded dataset: its task, feature dimensions and
// vocabulary sizes, the batch padding budgets, and (for regression) the
// target standardization. It is passed as the dataset `spec` to the model
// functions, which size their embedding tables and heads from it.
type Spec struct {
	Name     string
	TaskType string
	NumTasks int
	// NumClasses is the number of classes for TaskMultiClass (NumTasks==1).
	NumClasses int

	// NodeVocab / EdgeVocab give the cardinality of each categorical feature
	// column; empty when the features are continuous.
	NodeVocab, EdgeVocab []int

	NodeFloatDim, EdgeFloatDim int
	DistBasisDim               int
	LineNodeBasisDim           int
	LineEdgeBasisDim           int

	Budgets graphs.Budgets

	// TargetMean/TargetStd standardize regression targets; evaluation
	// reports errors on the original scale.
	TargetMean, TargetStd []float64
}

// String keys the compiled computation graphs in the trainer, so it must be
// stable and distinguish layouts.
func (s *Spec) String() string {
	return fmt.Sprintf("%s(%s, tasks=%d, budgets=%+v)", s.Name, s.TaskType, s.NumTasks, s.Budgets)
}

// Layout reports which optional tensor groups batches of this dataset carry.
func (s *Spec) Layout() graphs.Layout {
	return graphs.Layout{
		HasEdgeFeatures:  len(s.EdgeVocab) > 0 || s.EdgeFloatDim > 0,
		HasDistBasis:     s.DistBasisDim > 0,
		HasLineGraph:     s.LineNodeBasisDim > 0 || s.LineEdgeBasisDim > 0,
		HasLineNodeBasis: s.LineNodeBasisDim > 0,
		HasLineEdgeBasis: s.LineEdgeBasisDim > 0,
	}
}

// NumLogits is the width of the model head: NumClasses for multi-class,
// NumTasks otherwise.
func (s *Spec) NumLogits() int {
	if s.TaskType == TaskMultiClass {
		return s.NumClasses
	}
	return s.NumTasks
}

// refreshFromSamples updates the feature dimensions, vocabulary sizes and
// padding budgets after transforms changed the samples.
func (s *Spec) refreshFromSamples(samples []*graphs.Graph, batchSize int) {
	first := samples[0]
	s.NodeFloatDim = first.NodeFloatDim
	s.EdgeFloatDim = first.EdgeFloatDim
	s.DistBasisDim = first.EdgeDistBasisDim
	if lg := first.LineGraph; lg != nil {
		s.LineNodeBasisDim = lg.NodeBasisDim
		s.LineEdgeBasisDim = lg.EdgeBasisDim
	} else {
		s.LineNodeBasisDim, s.LineEdgeBasisDim = 0, 0
	}

	if first.NodeCatDim > 0 {
		s.NodeVocab = make([]int, first.NodeCatDim)
	} else {
		s.NodeVocab = nil
	}
	if first.EdgeCatDim > 0 {
		s.EdgeVocab = make([]int, first.EdgeCatDim)
	} else {
		s.EdgeVocab = nil
	}
	maxNodes, maxEdges, maxLine := 0, 0, 0
	for _, g := range samples {
		maxNodes = max(maxNodes, g.NumNodes)
		maxEdges = max(maxEdges, g.NumEdges)
		if g.LineGraph != nil {
			maxLine = max(maxLine, g.LineGraph.NumEdges)
		}
		for c := 0; c < g.NodeCatDim; c++ {
			for n := 0; n < g.NumNodes; n++ {
				s.NodeVocab[c] = max(s.NodeVocab[c], int(g.NodeCats[n*g.NodeCatDim+c])+1)
			}
		}
		for c := 0; c < g.EdgeCatDim; c++ {
			for e := 0; e < g.NumEdges; e++ {
				s.EdgeVocab[c] = max(s.EdgeVocab[c], int(g.EdgeCats[e*g.EdgeCatDim+c])+1)
			}
		}
	}
	s.Budgets = graphs.Budgets{
		MaxGraphs:         batchSize,
		MaxNodes:          batchSize * maxNodes,
		MaxEdges:          batchSize * maxEdges,
		MaxNodesPerGraph:  maxNodes,
		MaxEdgesPerGraph:  maxEdges,
		MaxLineGraphEdges: batchSize * maxLine,
	}
}

// standardizeTargets computes per-task mean/std over the labeled training
// targets and rescales the targets of all splits in place (replacing the
// target slices, the originals are shared).
func standardizeTargets(spec *Spec, train []*graphs.Graph, others ...[]*graphs.Graph) {
	spec.TargetMean = make([]float64, spec.NumTasks)
	spec.TargetStd = make([]float64, spec.NumTasks)
	for t := 0; t < spec.NumTasks; t++ {
		var values []float64
		for _, g := range train {
			if g.HasLabel(t) {
				values = append(values, float64(g.Targets[t]))
			}
		}
		mean, std := stat.MeanStdDev(values, nil)
		if std == 0 || len(values) < 2 {
			mean, std = 0, 1
		}
		spec.TargetMean[t], spec.TargetStd[t] = mean, std
	}
	rescale := func(samples []*graphs.Graph) {
		for _, g := range samples {
			targets := make([]float32, len(g.Targets))
			for t, v := range g.Targets {
				targets[t] = v
				if g.HasLabel(t) {
					targets[t] = float32((float64(v) - spec.TargetMean[t]) / spec.TargetStd[t])
				}
			}
			g.Targets = targets
		}
	}
	rescale(train)
	for _, split := range others {
		rescale(split)
	}
}
