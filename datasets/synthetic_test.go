package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyntheticValid(t *testing.T) {
	spec, samples := NewSynthetic(SyntheticOptions{NumSamples: 64})
	require.Len(t, samples, 64)
	assert.Equal(t, TaskRegression, spec.TaskType)
	assert.Equal(t, 1, spec.NumTasks)
	for i, g := range samples {
		require.NoErrorf(t, g.Validate(), "graph %d", i)
		assert.GreaterOrEqual(t, g.NumNodes, 6)
		assert.LessOrEqual(t, g.NumNodes, 16)
		assert.Equal(t, 3, g.CoordDim)
		assert.GreaterOrEqual(t, float64(g.Targets[0]), 0.0)
	}
}

func TestNewSyntheticTargets(t *testing.T) {
	_, samples := NewSynthetic(SyntheticOptions{NumSamples: 64, TaskType: TaskBinary})
	for _, g := range samples {
		assert.Contains(t, []float32{0, 1}, g.Targets[0])
	}

	_, samples = NewSynthetic(SyntheticOptions{NumSamples: 64, TaskType: TaskMultiClass})
	for _, g := range samples {
		class := int(g.Targets[0])
		assert.Equal(t, float32(class), g.Targets[0], "class targets must be integral")
		assert.GreaterOrEqual(t, class, 0)
		assert.Less(t, class, NumSyntheticClasses)
	}
}

func TestNewSyntheticDeterminism(t *testing.T) {
	_, a := NewSynthetic(SyntheticOptions{NumSamples: 8, Seed: 7})
	_, b := NewSynthetic(SyntheticOptions{NumSamples: 8, Seed: 7})
	for i := range a {
		assert.Equal(t, a[i].NodeCats, b[i].NodeCats)
		assert.Equal(t, a[i].EdgeSource, b[i].EdgeSource)
		assert.Equal(t, a[i].Coords, b[i].Coords)
		assert.Equal(t, a[i].Targets, b[i].Targets)
	}
}
