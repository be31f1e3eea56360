package training

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppend(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir)
	records := []Record{
		{Epoch: 0, GlobalStep: 100, LearningRate: 0.001, Metrics: map[string]float64{"train/loss": 0.9}},
		{Epoch: 1, GlobalStep: 200, LearningRate: 0.001, Metrics: map[string]float64{"train/loss": 0.7}},
	}
	for _, r := range records {
		require.NoError(t, h.Append(r))
	}

	f, err := os.Open(path.Join(dir, "metrics.jsonl"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	var read []Record
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		read = append(read, r)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, records, read)
}

func TestHistoryPlot(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir)
	losses := []float64{0.9, 0.6, 0.5}
	accuracies := []float64{0.5, 0.7, 0.8}
	for epoch := range losses {
		require.NoError(t, h.Append(Record{
			Epoch: epoch,
			Metrics: map[string]float64{
				"train/loss": losses[epoch],
				"valid/loss": losses[epoch] + 0.1,
				"valid/acc":  accuracies[epoch],
			},
		}))
	}
	require.NoError(t, h.Plot())

	// The train and valid losses share one plot, the accuracy gets its own.
	for _, name := range []string{"plot_loss.svg", "plot_acc.svg"} {
		info, err := os.Stat(path.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestHistoryPlotEmpty(t *testing.T) {
	h := NewHistory(t.TempDir())
	require.NoError(t, h.Plot())
}
