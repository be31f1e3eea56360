package datasets

import (
	"compress/gzip"
	"math"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGzipCSV(t *testing.T, filePath string, rows ...string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	f, err := os.Create(filePath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	for _, row := range rows {
		_, err = gz.Write([]byte(row + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

// writeTestDataset lays out a two-graph dataset: a triangle and a pair, with
// categorical node features, float edge features, 3D coordinates and two
// tasks (the pair misses the first task's label).
func writeTestDataset(t *testing.T) string {
	dir := t.TempDir()
	raw := path.Join(dir, "raw")
	writeGzipCSV(t, path.Join(raw, numNodeListFile), "3", "2")
	writeGzipCSV(t, path.Join(raw, numEdgeListFile), "3", "1")
	writeGzipCSV(t, path.Join(raw, edgeFile), "0,1", "1,2", "2,0", "1,0")
	writeGzipCSV(t, path.Join(raw, nodeFeatFile), "0,1", "1,0", "2,2", "3,1", "4,0")
	writeGzipCSV(t, path.Join(raw, edgeFeatFile), "0.5", "1.5", "2.5", "0.25")
	writeGzipCSV(t, path.Join(raw, nodeCoordFile), "0,0,0", "1,0,0", "0,1,0", "0,0,0", "0,0,1")
	writeGzipCSV(t, path.Join(raw, graphLabelFile), "1,0", ",1")

	split := path.Join(dir, "split", "scaffold")
	writeGzipCSV(t, path.Join(split, "train.csv.gz"), "0")
	writeGzipCSV(t, path.Join(split, "valid.csv.gz"), "1")
	writeGzipCSV(t, path.Join(split, "test.csv.gz"), "0", "1")
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeTestDataset(t)
	spec, train, valid, test, err := Load(LoadOptions{Name: "toy", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, TaskBinary, spec.TaskType)
	assert.Equal(t, 2, spec.NumTasks)
	require.Len(t, train, 1)
	require.Len(t, valid, 1)
	require.Len(t, test, 2)

	g := train[0]
	assert.Equal(t, 3, g.NumNodes)
	assert.Equal(t, 3, g.NumEdges)
	assert.Equal(t, []int32{0, 1, 2}, g.EdgeSource)
	assert.Equal(t, []int32{1, 2, 0}, g.EdgeTarget)
	assert.Equal(t, 2, g.NodeCatDim)
	assert.Equal(t, []int32{0, 1, 1, 0, 2, 2}, g.NodeCats)
	assert.Equal(t, 1, g.EdgeFloatDim)
	assert.Equal(t, []float32{0.5, 1.5, 2.5}, g.EdgeFloats)
	assert.Equal(t, 3, g.CoordDim)
	assert.Equal(t, []float32{1, 0}, g.Targets)

	p := valid[0]
	assert.Equal(t, 2, p.NumNodes)
	assert.Equal(t, 1, p.NumEdges)
	require.Len(t, p.Targets, 2)
	assert.True(t, math.IsNaN(float64(p.Targets[0])))
	assert.Equal(t, float32(1), p.Targets[1])
	assert.False(t, p.HasLabel(0))
	assert.True(t, p.HasLabel(1))
}

func TestLoadDropsMalformed(t *testing.T) {
	dir := writeTestDataset(t)
	// Give the pair an edge pointing at a node it doesn't have.
	writeGzipCSV(t, path.Join(dir, "raw", edgeFile), "0,1", "1,2", "2,0", "1,9")

	_, train, valid, test, err := Load(LoadOptions{Name: "toy", Dir: dir})
	require.NoError(t, err)
	assert.Len(t, train, 1)
	assert.Len(t, valid, 0)
	assert.Len(t, test, 1)
}

func TestLoadBadSplitIndex(t *testing.T) {
	dir := writeTestDataset(t)
	writeGzipCSV(t, path.Join(dir, "split", "scaffold", "train.csv.gz"), "5")
	_, _, _, _, err := Load(LoadOptions{Name: "toy", Dir: dir})
	assert.Error(t, err)
}

func TestLoadCountMismatch(t *testing.T) {
	dir := writeTestDataset(t)
	writeGzipCSV(t, path.Join(dir, "raw", numEdgeListFile), "3")
	_, _, _, _, err := Load(LoadOptions{Name: "toy", Dir: dir})
	assert.Error(t, err)
}
