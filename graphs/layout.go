package graphs

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
)

// Layout describes which optional tensor groups a dataset's batches carry.
// It must match the order produced by Batch.Inputs.
type Layout struct {
	HasEdgeFeatures                    bool
	HasDistBasis                       bool
	HasLineGraph                       bool
	HasLineNodeBasis, HasLineEdgeBasis bool
}

// BatchInputs is the graph-building-time view of a batch: one *graph.Node per
// tensor yielded by Batch.Inputs, in the same order. Optional groups are nil
// when the Layout doesn't carry them.
type BatchInputs struct {
	NodeFeatures, NodeMask, NodeGraphs, NodeLocal           *graph.Node
	EdgeSource, EdgeTarget, EdgeMask, EdgeGraphs, EdgeLocal *graph.Node
	EdgeFeatures                                            *graph.Node
	DistBasis                                               *graph.Node

	LineSource, LineTarget, LineMask, LineGraphs *graph.Node
	LineNodeBasis, LineEdgeBasis                 *graph.Node

	GraphMask *graph.Node
}

// SplitInputs maps the flat model inputs back to named tensors according to
// the layout. Panics if the count doesn't match: that is a programming
// error, the dataset and the model must agree on the layout.
func (l Layout) SplitInputs(inputs []*graph.Node) *BatchInputs {
	want := 10 // node features, 3 node vectors, 5 edge vectors, graph mask
	if l.HasEdgeFeatures {
		want++
	}
	if l.HasDistBasis {
		want++
	}
	if l.HasLineGraph {
		want += 4
		if l.HasLineNodeBasis {
			want++
		}
		if l.HasLineEdgeBasis {
			want++
		}
	}
	if len(inputs) != want {
		Panicf("batch layout mismatch: got %d input tensors, want %d for layout %+v",
			len(inputs), want, l)
	}
	bi := &BatchInputs{}
	next := func() *graph.Node {
		n := inputs[0]
		inputs = inputs[1:]
		return n
	}
	bi.NodeFeatures = next()
	bi.NodeMask = next()
	bi.NodeGraphs = next()
	bi.NodeLocal = next()
	bi.EdgeSource = next()
	bi.EdgeTarget = next()
	bi.EdgeMask = next()
	bi.EdgeGraphs = next()
	bi.EdgeLocal = next()
	if l.HasEdgeFeatures {
		bi.EdgeFeatures = next()
	}
	if l.HasDistBasis {
		bi.DistBasis = next()
	}
	if l.HasLineGraph {
		bi.LineSource = next()
		bi.LineTarget = next()
		bi.LineMask = next()
		bi.LineGraphs = next()
		if l.HasLineNodeBasis {
			bi.LineNodeBasis = next()
		}
		if l.HasLineEdgeBasis {
			bi.LineEdgeBasis = next()
		}
	}
	bi.GraphMask = next()
	return bi
}
