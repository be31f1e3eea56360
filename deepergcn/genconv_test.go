package deepergcn

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/xslices"
)

// The fixture: four nodes, two edges into node 0, one into node 2, and one
// masked-out edge into node 1 whose large message must not leak through.
var (
	testMessages = [][]float32{{1, 2}, {3, 4}, {5, 6}, {100, 200}}
	testTargets  = []int32{0, 0, 2, 1}
	testMask     = []bool{true, true, true, false}
)

func aggregateTestFn(cfg ConvConfig) graphtest.TestGraphFn {
	ctx := context.New()
	return func(g *Graph) (inputs, outputs []*Node) {
		messages := Const(g, testMessages)
		targets := Const(g, testTargets)
		mask := Const(g, testMask)
		inputs = []*Node{messages, targets, mask}
		outputs = []*Node{aggregate(ctx, cfg, messages, targets, mask, 4)}
		return
	}
}

func TestAggregateSum(t *testing.T) {
	graphtest.RunTestGraphFn(t, "aggregate(sum)",
		aggregateTestFn(ConvConfig{Aggregation: "sum"}),
		[]any{[][]float32{{4, 6}, {0, 0}, {5, 6}, {0, 0}}},
		xslices.Epsilon)
}

func TestAggregateMean(t *testing.T) {
	graphtest.RunTestGraphFn(t, "aggregate(mean)",
		aggregateTestFn(ConvConfig{Aggregation: "mean"}),
		[]any{[][]float32{{2, 3}, {0, 0}, {5, 6}, {0, 0}}},
		xslices.Epsilon)
}

func TestAggregatePower(t *testing.T) {
	// With exponent p=1 the power mean reduces to the arithmetic mean.
	graphtest.RunTestGraphFn(t, "aggregate(power, p=1)",
		aggregateTestFn(ConvConfig{Aggregation: "power", InitP: 1.0}),
		[]any{[][]float32{{2, 3}, {0, 0}, {5, 6}, {0, 0}}},
		xslices.Epsilon)
}

func TestAggregateMax(t *testing.T) {
	// Node 0 keeps the channel-wise maximum of its two messages; the masked
	// edge into node 1 is zeroed out, leaving it at zero like node 3.
	graphtest.RunTestGraphFn(t, "aggregate(max)",
		aggregateTestFn(ConvConfig{Aggregation: "max"}),
		[]any{[][]float32{{3, 4}, {0, 0}, {5, 6}, {0, 0}}},
		xslices.Epsilon)
}

func TestAggregateSoftmax(t *testing.T) {
	// Hand-computed softmax-weighted means with temperature 1: per channel,
	// node 0 weighs its two messages by exp(message).
	softmax2 := func(a, b float32) float32 {
		wa := math.Exp(float64(a))
		wb := math.Exp(float64(b))
		return float32((wa*float64(a) + wb*float64(b)) / (wa + wb))
	}
	graphtest.RunTestGraphFn(t, "aggregate(softmax, t=1)",
		aggregateTestFn(ConvConfig{Aggregation: "softmax", InitT: 1.0}),
		[]any{[][]float32{
			{softmax2(1, 3), softmax2(2, 4)},
			{0, 0},
			{5, 6},
			{0, 0},
		}},
		xslices.Epsilon)
}
