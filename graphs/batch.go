package graphs

import (
	"math"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Budgets are the fixed per-batch capacities. Every batch is padded to
// exactly these sizes so all batches share one tensor shape.
type Budgets struct {
	MaxGraphs, MaxNodes, MaxEdges int

	// MaxNodesPerGraph and MaxEdgesPerGraph cap the size of a single graph.
	// They size the dense per-graph layouts (max readout, structural message
	// passing). Zero means unchecked.
	MaxNodesPerGraph, MaxEdgesPerGraph int

	// MaxLineGraphEdges is only used when batching graphs that carry a
	// line-graph companion.
	MaxLineGraphEdges int
}

// Fits reports whether adding a graph with the given counts to a batch
// already holding the accumulated counts stays within budget.
func (b Budgets) Fits(graphs, nodes, edges, lineEdges int) bool {
	return graphs <= b.MaxGraphs && nodes <= b.MaxNodes && edges <= b.MaxEdges &&
		(b.MaxLineGraphEdges == 0 || lineEdges <= b.MaxLineGraphEdges)
}

// Batch is a disjoint union of graphs padded to fixed budgets.
//
// Node and edge tensors are flat: nodes of all graphs are concatenated, and
// edge endpoints index into the concatenated node axis. NodeGraphs and
// EdgeGraphs assign each slot to its graph, for pooling. NodeLocal is the
// node's index within its own graph, used by models that rebuild a dense
// per-graph layout (SMP). Padded slots have their mask off and index slot 0.
type Batch struct {
	Budgets   Budgets
	NumGraphs int
	NumTasks  int

	NodeCats   []int32
	NodeFloats []float32
	NodeMask   []bool
	NodeGraphs []int32
	NodeLocal  []int32

	EdgeSource, EdgeTarget []int32
	EdgeMask               []bool
	EdgeGraphs             []int32
	EdgeLocal              []int32
	EdgeCats               []int32
	EdgeFloats             []float32
	EdgeDistBasis          []float32

	LineSource, LineTarget []int32
	LineMask               []bool
	LineGraphs             []int32
	LineNodeBasis          []float32
	LineEdgeBasis          []float32

	GraphMask  []bool
	Targets    []float32
	TargetMask []bool

	nodeCatDim, nodeFloatDim           int
	edgeCatDim, edgeFloatDim           int
	distBasisDim                       int
	lineNodeBasisDim, lineEdgeBasisDim int
}

// NewBatch builds a padded batch from the given samples. It fails if the
// samples exceed the budgets, or if their feature dimensions disagree.
func NewBatch(samples []*Graph, budgets Budgets, numTasks int) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty batch")
	}
	if len(samples) > budgets.MaxGraphs {
		return nil, errors.Errorf("batch of %d graphs exceeds budget of %d", len(samples), budgets.MaxGraphs)
	}
	first := samples[0]
	b := &Batch{
		Budgets:      budgets,
		NumGraphs:    len(samples),
		NumTasks:     numTasks,
		nodeCatDim:   first.NodeCatDim,
		nodeFloatDim: first.NodeFloatDim,
		edgeCatDim:   first.EdgeCatDim,
		edgeFloatDim: first.EdgeFloatDim,
		distBasisDim: first.EdgeDistBasisDim,
	}
	hasLineGraph := first.LineGraph != nil
	if hasLineGraph {
		b.lineNodeBasisDim = first.LineGraph.NodeBasisDim
		b.lineEdgeBasisDim = first.LineGraph.EdgeBasisDim
	}

	b.NodeMask = make([]bool, budgets.MaxNodes)
	b.NodeGraphs = make([]int32, budgets.MaxNodes)
	b.NodeLocal = make([]int32, budgets.MaxNodes)
	if b.nodeCatDim > 0 {
		b.NodeCats = make([]int32, budgets.MaxNodes*b.nodeCatDim)
	}
	if b.nodeFloatDim > 0 {
		b.NodeFloats = make([]float32, budgets.MaxNodes*b.nodeFloatDim)
	}
	b.EdgeSource = make([]int32, budgets.MaxEdges)
	b.EdgeTarget = make([]int32, budgets.MaxEdges)
	b.EdgeMask = make([]bool, budgets.MaxEdges)
	b.EdgeGraphs = make([]int32, budgets.MaxEdges)
	b.EdgeLocal = make([]int32, budgets.MaxEdges)
	if b.edgeCatDim > 0 {
		b.EdgeCats = make([]int32, budgets.MaxEdges*b.edgeCatDim)
	}
	if b.edgeFloatDim > 0 {
		b.EdgeFloats = make([]float32, budgets.MaxEdges*b.edgeFloatDim)
	}
	if b.distBasisDim > 0 {
		b.EdgeDistBasis = make([]float32, budgets.MaxEdges*b.distBasisDim)
	}
	if hasLineGraph {
		b.LineSource = make([]int32, budgets.MaxLineGraphEdges)
		b.LineTarget = make([]int32, budgets.MaxLineGraphEdges)
		b.LineMask = make([]bool, budgets.MaxLineGraphEdges)
		b.LineGraphs = make([]int32, budgets.MaxLineGraphEdges)
		if b.lineNodeBasisDim > 0 {
			b.LineNodeBasis = make([]float32, budgets.MaxEdges*b.lineNodeBasisDim)
		}
		if b.lineEdgeBasisDim > 0 {
			b.LineEdgeBasis = make([]float32, budgets.MaxLineGraphEdges*b.lineEdgeBasisDim)
		}
	}
	b.GraphMask = make([]bool, budgets.MaxGraphs)
	b.Targets = make([]float32, budgets.MaxGraphs*numTasks)
	b.TargetMask = make([]bool, budgets.MaxGraphs*numTasks)

	nodeOffset, edgeOffset, lineOffset := 0, 0, 0
	for gi, sample := range samples {
		if err := b.checkDims(sample, hasLineGraph); err != nil {
			return nil, errors.WithMessagef(err, "sample %d", gi)
		}
		lineEdges := 0
		if sample.LineGraph != nil {
			lineEdges = sample.LineGraph.NumEdges
		}
		if !budgets.Fits(gi+1, nodeOffset+sample.NumNodes, edgeOffset+sample.NumEdges, lineOffset+lineEdges) {
			return nil, errors.Errorf("batch overflows budgets %+v at sample %d", budgets, gi)
		}
		if budgets.MaxNodesPerGraph > 0 && sample.NumNodes > budgets.MaxNodesPerGraph {
			return nil, errors.Errorf("sample %d has %d nodes, budget allows %d per graph",
				gi, sample.NumNodes, budgets.MaxNodesPerGraph)
		}
		if budgets.MaxEdgesPerGraph > 0 && sample.NumEdges > budgets.MaxEdgesPerGraph {
			return nil, errors.Errorf("sample %d has %d edges, budget allows %d per graph",
				gi, sample.NumEdges, budgets.MaxEdgesPerGraph)
		}

		for n := 0; n < sample.NumNodes; n++ {
			slot := nodeOffset + n
			b.NodeMask[slot] = true
			b.NodeGraphs[slot] = int32(gi)
			b.NodeLocal[slot] = int32(n)
		}
		if b.nodeCatDim > 0 {
			copy(b.NodeCats[nodeOffset*b.nodeCatDim:], sample.NodeCats)
		}
		if b.nodeFloatDim > 0 {
			copy(b.NodeFloats[nodeOffset*b.nodeFloatDim:], sample.NodeFloats)
		}

		for e := 0; e < sample.NumEdges; e++ {
			slot := edgeOffset + e
			b.EdgeSource[slot] = sample.EdgeSource[e] + int32(nodeOffset)
			b.EdgeTarget[slot] = sample.EdgeTarget[e] + int32(nodeOffset)
			b.EdgeMask[slot] = true
			b.EdgeGraphs[slot] = int32(gi)
			b.EdgeLocal[slot] = int32(e)
		}
		if b.edgeCatDim > 0 {
			copy(b.EdgeCats[edgeOffset*b.edgeCatDim:], sample.EdgeCats)
		}
		if b.edgeFloatDim > 0 {
			copy(b.EdgeFloats[edgeOffset*b.edgeFloatDim:], sample.EdgeFloats)
		}
		if b.distBasisDim > 0 {
			copy(b.EdgeDistBasis[edgeOffset*b.distBasisDim:], sample.EdgeDistBasis)
		}

		if sample.LineGraph != nil {
			lg := sample.LineGraph
			for e := 0; e < lg.NumEdges; e++ {
				slot := lineOffset + e
				b.LineSource[slot] = lg.Source[e] + int32(edgeOffset)
				b.LineTarget[slot] = lg.Target[e] + int32(edgeOffset)
				b.LineMask[slot] = true
				b.LineGraphs[slot] = int32(gi)
			}
			if b.lineNodeBasisDim > 0 {
				copy(b.LineNodeBasis[edgeOffset*b.lineNodeBasisDim:], lg.NodeBasis)
			}
			if b.lineEdgeBasisDim > 0 {
				copy(b.LineEdgeBasis[lineOffset*b.lineEdgeBasisDim:], lg.EdgeBasis)
			}
			lineOffset += lg.NumEdges
		}

		b.GraphMask[gi] = true
		for t := 0; t < numTasks; t++ {
			value := sample.Targets[t]
			b.Targets[gi*numTasks+t] = value
			b.TargetMask[gi*numTasks+t] = !math.IsNaN(float64(value))
		}
		nodeOffset += sample.NumNodes
		edgeOffset += sample.NumEdges
	}
	// Zero the masked-out targets: the backend should never see NaNs, even
	// where the mask is off.
	for i, ok := range b.TargetMask {
		if !ok {
			b.Targets[i] = 0
		}
	}
	return b, nil
}

func (b *Batch) checkDims(sample *Graph, hasLineGraph bool) error {
	if sample.NodeCatDim != b.nodeCatDim || sample.NodeFloatDim != b.nodeFloatDim ||
		sample.EdgeCatDim != b.edgeCatDim || sample.EdgeFloatDim != b.edgeFloatDim ||
		sample.EdgeDistBasisDim != b.distBasisDim {
		return errors.Errorf("feature dimensions don't match the first sample of the batch")
	}
	if hasLineGraph != (sample.LineGraph != nil) {
		return errors.New("mix of samples with and without line graph")
	}
	if len(sample.Targets) != b.NumTasks {
		return errors.Errorf("sample has %d targets, want %d", len(sample.Targets), b.NumTasks)
	}
	return nil
}

// Inputs materializes the model input tensors, in the fixed order consumed
// by the models: node features, node mask, node graph ids, node local ids,
// edge source, edge target, edge mask, edge graph ids, edge local ids,
// [edge features], [distance basis], [line-graph tensors], graph mask.
func (b *Batch) Inputs() []*tensors.Tensor {
	inputs := make([]*tensors.Tensor, 0, 16)
	if b.nodeCatDim > 0 {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.NodeCats, b.Budgets.MaxNodes, b.nodeCatDim))
	} else {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.NodeFloats, b.Budgets.MaxNodes, b.nodeFloatDim))
	}
	inputs = append(inputs,
		tensors.FromFlatDataAndDimensions(b.NodeMask, b.Budgets.MaxNodes),
		tensors.FromFlatDataAndDimensions(b.NodeGraphs, b.Budgets.MaxNodes),
		tensors.FromFlatDataAndDimensions(b.NodeLocal, b.Budgets.MaxNodes),
		tensors.FromFlatDataAndDimensions(b.EdgeSource, b.Budgets.MaxEdges),
		tensors.FromFlatDataAndDimensions(b.EdgeTarget, b.Budgets.MaxEdges),
		tensors.FromFlatDataAndDimensions(b.EdgeMask, b.Budgets.MaxEdges),
		tensors.FromFlatDataAndDimensions(b.EdgeGraphs, b.Budgets.MaxEdges),
		tensors.FromFlatDataAndDimensions(b.EdgeLocal, b.Budgets.MaxEdges))
	if b.edgeCatDim > 0 {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.EdgeCats, b.Budgets.MaxEdges, b.edgeCatDim))
	} else if b.edgeFloatDim > 0 {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.EdgeFloats, b.Budgets.MaxEdges, b.edgeFloatDim))
	}
	if b.distBasisDim > 0 {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.EdgeDistBasis, b.Budgets.MaxEdges, b.distBasisDim))
	}
	if b.LineSource != nil {
		inputs = append(inputs,
			tensors.FromFlatDataAndDimensions(b.LineSource, b.Budgets.MaxLineGraphEdges),
			tensors.FromFlatDataAndDimensions(b.LineTarget, b.Budgets.MaxLineGraphEdges),
			tensors.FromFlatDataAndDimensions(b.LineMask, b.Budgets.MaxLineGraphEdges),
			tensors.FromFlatDataAndDimensions(b.LineGraphs, b.Budgets.MaxLineGraphEdges))
		if b.lineNodeBasisDim > 0 {
			inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.LineNodeBasis, b.Budgets.MaxEdges, b.lineNodeBasisDim))
		}
		if b.lineEdgeBasisDim > 0 {
			inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.LineEdgeBasis, b.Budgets.MaxLineGraphEdges, b.lineEdgeBasisDim))
		}
	}
	inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.GraphMask, b.Budgets.MaxGraphs))
	return inputs
}

// Labels materializes the label tensors: the targets and their mask, in the
// convention expected by the losses (labels[0]=values, labels[1]=mask).
func (b *Batch) Labels() []*tensors.Tensor {
	return []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(b.Targets, b.Budgets.MaxGraphs, b.NumTasks),
		tensors.FromFlatDataAndDimensions(b.TargetMask, b.Budgets.MaxGraphs, b.NumTasks),
	}
}
