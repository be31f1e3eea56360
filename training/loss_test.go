package training

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/xslices"
)

func TestBinaryLoss(t *testing.T) {
	// Two labeled entries with logit 0 contribute ln(2) each; the third is
	// masked out and must not dilute the mean.
	graphtest.RunTestGraphFn(t, "binaryLoss",
		func(g *Graph) (inputs, outputs []*Node) {
			targets := Const(g, [][]float32{{1}, {0}, {1}})
			mask := Const(g, [][]bool{{true}, {true}, {false}})
			logits := Const(g, [][]float32{{0}, {0}, {5}})
			inputs = []*Node{targets, mask, logits}
			outputs = []*Node{binaryLoss([]*Node{targets, mask}, []*Node{logits})}
			return
		},
		[]any{float32(math.Ln2)},
		xslices.Epsilon)
}

func TestMultiClassLoss(t *testing.T) {
	// Uniform logits over 3 classes: cross-entropy ln(3). The second graph is
	// unlabeled padding.
	graphtest.RunTestGraphFn(t, "multiClassLoss",
		func(g *Graph) (inputs, outputs []*Node) {
			targets := Const(g, [][]float32{{1}, {2}})
			mask := Const(g, [][]bool{{true}, {false}})
			logits := Const(g, [][]float32{{0, 0, 0}, {10, 0, 0}})
			inputs = []*Node{targets, mask, logits}
			outputs = []*Node{multiClassLoss([]*Node{targets, mask}, []*Node{logits})}
			return
		},
		[]any{float32(math.Log(3))},
		xslices.Epsilon)
}

func TestRegressionLoss(t *testing.T) {
	graphtest.RunTestGraphFn(t, "regressionLoss",
		func(g *Graph) (inputs, outputs []*Node) {
			targets := Const(g, [][]float32{{1, 2}, {3, 100}})
			mask := Const(g, [][]bool{{true, true}, {true, false}})
			logits := Const(g, [][]float32{{0, 0}, {0, 0}})
			inputs = []*Node{targets, mask, logits}
			outputs = []*Node{regressionLoss([]*Node{targets, mask}, []*Node{logits})}
			return
		},
		[]any{float32(2)},
		xslices.Epsilon)
}
