package datasets

import (
	"math"
	"math/rand"

	"github.com/gomlx/molgraphs/graphs"
)

// SyntheticOptions configure the random graph generator.
type SyntheticOptions struct {
	NumSamples int
	Seed       int64
	// TaskType is TaskRegression (normalized triangle count), TaskBinary
	// (has any triangle) or TaskMultiClass (triangle count, capped).
	TaskType string
	// MinNodes/MaxNodes bound the graph sizes. Defaults: 6..16.
	MinNodes, MaxNodes int
}

// NumSyntheticClasses caps the multi-class synthetic target.
const NumSyntheticClasses = 4

// NewSynthetic generates a random molecular-like dataset: connected graphs
// with categorical node/edge features, 3D coordinates, and a target derived
// from the triangle count. Useful for tests and smoke-training without
// downloads.
func NewSynthetic(opts SyntheticOptions) (*Spec, []*graphs.Graph) {
	if opts.NumSamples == 0 {
		opts.NumSamples = 256
	}
	if opts.TaskType == "" {
		opts.TaskType = TaskRegression
	}
	if opts.MinNodes == 0 {
		opts.MinNodes = 6
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = 16
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	samples := make([]*graphs.Graph, opts.NumSamples)
	for i := range samples {
		samples[i] = syntheticGraph(rng, opts)
	}
	spec := &Spec{
		Name:       "synthetic",
		TaskType:   opts.TaskType,
		NumTasks:   1,
		NumClasses: NumSyntheticClasses,
	}
	return spec, samples
}

func syntheticGraph(rng *rand.Rand, opts SyntheticOptions) *graphs.Graph {
	n := opts.MinNodes + rng.Intn(opts.MaxNodes-opts.MinNodes+1)

	// Random spanning tree keeps the graph connected, plus a few chords that
	// may close triangles.
	var undirected []nodePair
	adjacent := make(map[nodePair]bool)
	addEdge := func(a, b int32) {
		if a == b || adjacent[nodePair{a, b}] {
			return
		}
		adjacent[nodePair{a, b}] = true
		adjacent[nodePair{b, a}] = true
		undirected = append(undirected, nodePair{a, b})
	}
	for v := 1; v < n; v++ {
		addEdge(int32(rng.Intn(v)), int32(v))
	}
	for c := 0; c < n/2; c++ {
		addEdge(int32(rng.Intn(n)), int32(rng.Intn(n)))
	}

	g := &graphs.Graph{
		NumNodes:   n,
		NumEdges:   2 * len(undirected),
		NodeCatDim: 2,
		EdgeCatDim: 1,
		CoordDim:   3,
	}
	g.NodeCats = make([]int32, n*2)
	for v := 0; v < n; v++ {
		g.NodeCats[v*2] = int32(rng.Intn(8))
		g.NodeCats[v*2+1] = int32(rng.Intn(3))
	}
	g.Coords = make([]float32, n*3)
	for i := range g.Coords {
		g.Coords[i] = float32(rng.NormFloat64())
	}
	g.EdgeSource = make([]int32, g.NumEdges)
	g.EdgeTarget = make([]int32, g.NumEdges)
	g.EdgeCats = make([]int32, g.NumEdges)
	for e, p := range undirected {
		bond := int32(rng.Intn(4))
		g.EdgeSource[2*e], g.EdgeTarget[2*e] = p.a, p.b
		g.EdgeSource[2*e+1], g.EdgeTarget[2*e+1] = p.b, p.a
		g.EdgeCats[2*e], g.EdgeCats[2*e+1] = bond, bond
	}

	triangles := countTriangles(n, undirected, adjacent)
	g.Targets = []float32{syntheticTarget(opts.TaskType, n, triangles)}
	return g
}

type nodePair struct{ a, b int32 }

func countTriangles(n int, undirected []nodePair, adjacent map[nodePair]bool) int {
	count := 0
	for _, p := range undirected {
		for c := int32(0); c < int32(n); c++ {
			if c == p.a || c == p.b {
				continue
			}
			if adjacent[nodePair{p.a, c}] && adjacent[nodePair{p.b, c}] {
				count++
			}
		}
	}
	// Each triangle is counted once per side.
	return count / 3
}

func syntheticTarget(taskType string, n, triangles int) float32 {
	switch taskType {
	case TaskBinary:
		if triangles > 0 {
			return 1
		}
		return 0
	case TaskMultiClass:
		return float32(min(triangles, NumSyntheticClasses-1))
	default:
		return float32(triangles) / float32(math.Max(1, float64(n)))
	}
}
