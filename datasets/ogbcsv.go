package datasets

import (
	"compress/gzip"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/molgraphs/graphs"
)

// File names inside an OGB-style graph property prediction directory.
// All per-graph and per-node/edge files are headerless gzip CSVs; graphs are
// concatenated in order, with num-node-list / num-edge-list giving the
// per-graph counts.
const (
	numNodeListFile = "num-node-list.csv.gz"
	numEdgeListFile = "num-edge-list.csv.gz"
	edgeFile        = "edge.csv.gz"
	nodeFeatFile    = "node-feat.csv.gz"
	edgeFeatFile    = "edge-feat.csv.gz"
	nodeCoordFile   = "node-coord.csv.gz"
	graphLabelFile  = "graph-label.csv.gz"
)

// LoadOptions configure loading of an OGB-style dataset directory.
type LoadOptions struct {
	Name string
	// Dir is the dataset directory, holding raw/ and split/. A leading "~"
	// is expanded.
	Dir string
	// URL optionally points at a zip with the dataset, downloaded and
	// unpacked into Dir when the raw files are missing.
	URL, Checksum string

	TaskType   string
	NumClasses int

	// SplitName is the subdirectory of split/ with the train/valid/test
	// index files. Defaults to "scaffold".
	SplitName string
}

// Load reads an OGB-style gzip CSV dataset from disk (downloading it first
// if a URL is given) and returns its spec and the three sample splits.
// Malformed graphs are dropped from the splits with a warning.
//
// The returned spec has no budgets or vocabulary sizes yet; Prepare fills
// those in after the featurization transforms ran.
func Load(opts LoadOptions) (spec *Spec, train, valid, test []*graphs.Graph, err error) {
	dir := mldata.ReplaceTildeInDir(opts.Dir)
	rawDir := path.Join(dir, "raw")
	if opts.URL != "" && !mldata.FileExists(path.Join(rawDir, numNodeListFile)) {
		zipPath := path.Join(dir, path.Base(opts.URL))
		if err = mldata.DownloadAndUnzipIfMissing(opts.URL, zipPath, dir, rawDir, opts.Checksum); err != nil {
			return
		}
	}

	samples, err := loadSamples(rawDir)
	if err != nil {
		return
	}
	klog.V(1).Infof("%s: loaded %s graphs from %s", opts.Name, humanize.Comma(int64(len(samples))), rawDir)

	numTasks, err := loadLabels(path.Join(rawDir, graphLabelFile), samples)
	if err != nil {
		return
	}

	splitName := opts.SplitName
	if splitName == "" {
		splitName = "scaffold"
	}
	splitDir := path.Join(dir, "split", splitName)
	train, err = pickSplit(path.Join(splitDir, "train.csv.gz"), samples)
	if err != nil {
		return
	}
	valid, err = pickSplit(path.Join(splitDir, "valid.csv.gz"), samples)
	if err != nil {
		return
	}
	test, err = pickSplit(path.Join(splitDir, "test.csv.gz"), samples)
	if err != nil {
		return
	}
	train, valid, test = sanitizeSamples(train), sanitizeSamples(valid), sanitizeSamples(test)

	spec = &Spec{
		Name:       opts.Name,
		TaskType:   opts.TaskType,
		NumTasks:   numTasks,
		NumClasses: opts.NumClasses,
	}
	if spec.TaskType == "" {
		spec.TaskType = TaskBinary
	}
	klog.V(1).Infof("%s: %d tasks (%s), splits train=%d valid=%d test=%d",
		opts.Name, numTasks, spec.TaskType, len(train), len(valid), len(test))
	return
}

// loadSamples assembles the graph structures and node/edge features from the
// concatenated per-graph CSV files.
func loadSamples(rawDir string) ([]*graphs.Graph, error) {
	numNodes, err := readIntColumn(path.Join(rawDir, numNodeListFile))
	if err != nil {
		return nil, err
	}
	numEdges, err := readIntColumn(path.Join(rawDir, numEdgeListFile))
	if err != nil {
		return nil, err
	}
	if len(numNodes) != len(numEdges) {
		return nil, errors.Errorf("%s has %d graphs but %s has %d",
			numNodeListFile, len(numNodes), numEdgeListFile, len(numEdges))
	}

	samples := make([]*graphs.Graph, len(numNodes))
	for i := range samples {
		samples[i] = &graphs.Graph{NumNodes: int(numNodes[i]), NumEdges: int(numEdges[i])}
	}

	err = mldata.ParseGzipCSVFile(path.Join(rawDir, edgeFile),
		perGraph(numEdges, func(g, _ int, row []string) error {
			if len(row) != 2 {
				return errors.Errorf("edge row has %d columns, want 2", len(row))
			}
			s, err1 := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 32)
			t, err2 := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 32)
			if err1 != nil || err2 != nil {
				return errors.Errorf("bad edge row %v", row)
			}
			sample := samples[g]
			sample.EdgeSource = append(sample.EdgeSource, int32(s))
			sample.EdgeTarget = append(sample.EdgeTarget, int32(t))
			return nil
		}))
	if err != nil {
		return nil, err
	}

	err = readFeatures(path.Join(rawDir, nodeFeatFile), numNodes, false,
		func(g, dim int, cats []int32, floats []float32) {
			if cats != nil {
				samples[g].NodeCats, samples[g].NodeCatDim = cats, dim
			} else {
				samples[g].NodeFloats, samples[g].NodeFloatDim = floats, dim
			}
		})
	if err != nil {
		return nil, err
	}

	if mldata.FileExists(path.Join(rawDir, edgeFeatFile)) {
		err = readFeatures(path.Join(rawDir, edgeFeatFile), numEdges, false,
			func(g, dim int, cats []int32, floats []float32) {
				if cats != nil {
					samples[g].EdgeCats, samples[g].EdgeCatDim = cats, dim
				} else {
					samples[g].EdgeFloats, samples[g].EdgeFloatDim = floats, dim
				}
			})
		if err != nil {
			return nil, err
		}
	}

	if mldata.FileExists(path.Join(rawDir, nodeCoordFile)) {
		err = readFeatures(path.Join(rawDir, nodeCoordFile), numNodes, true,
			func(g, dim int, _ []int32, floats []float32) {
				samples[g].Coords, samples[g].CoordDim = floats, dim
			})
		if err != nil {
			return nil, err
		}
	}
	return samples, nil
}

// loadLabels reads the per-graph targets with gota: empty cells become NaN,
// which marks the task unlabeled for that graph. Returns the number of tasks.
func loadLabels(filePath string, samples []*graphs.Graph) (int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to un-gzip %q", filePath)
	}
	df := dataframe.ReadCSV(gz,
		dataframe.HasHeader(false),
		dataframe.DefaultType(series.Float))
	if df.Error() != nil {
		return 0, errors.Wrapf(df.Error(), "failed to parse %q", filePath)
	}
	if df.Nrow() != len(samples) {
		return 0, errors.Errorf("%q has %d label rows, want %d", filePath, df.Nrow(), len(samples))
	}
	numTasks := df.Ncol()
	for i, sample := range samples {
		sample.Targets = make([]float32, numTasks)
		for t := 0; t < numTasks; t++ {
			sample.Targets[t] = float32(df.Elem(i, t).Float())
		}
	}
	return numTasks, nil
}

// pickSplit reads a single-column index file and gathers the referenced
// samples.
func pickSplit(filePath string, samples []*graphs.Graph) ([]*graphs.Graph, error) {
	indices, err := readIntColumn(filePath)
	if err != nil {
		return nil, err
	}
	split := make([]*graphs.Graph, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || int(idx) >= len(samples) {
			return nil, errors.Errorf("%q references graph %d, dataset has %d", filePath, idx, len(samples))
		}
		split = append(split, samples[idx])
	}
	return split, nil
}

// readIntColumn reads a headerless single-column integer gzip CSV.
func readIntColumn(filePath string) ([]int64, error) {
	var values []int64
	err := mldata.ParseGzipCSVFile(filePath, func(row []string) error {
		if len(row) != 1 {
			return errors.Errorf("row has %d columns, want 1", len(row))
		}
		v, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "bad integer %q", row[0])
		}
		values = append(values, v)
		return nil
	})
	return values, err
}

// readFeatures reads a concatenated per-graph feature file. The column type
// is sniffed from the first row: cells with a decimal point or exponent
// parse as float32, otherwise as int32 categories. forceFloat skips the
// sniffing. Each graph's block is handed to assign once complete; graphs
// with zero rows get an empty block of the right kind.
func readFeatures(filePath string, counts []int64, forceFloat bool,
	assign func(g, dim int, cats []int32, floats []float32)) error {
	isFloat, dim := forceFloat, 0
	var cats []int32
	var floats []float32
	assigned := make([]bool, len(counts))
	flush := func(g int) {
		assign(g, dim, cats, floats)
		assigned[g] = true
		cats, floats = nil, nil
	}
	prevGraph := -1
	err := mldata.ParseGzipCSVFile(filePath, perGraph(counts, func(g, _ int, row []string) error {
		if dim == 0 {
			dim = len(row)
			if !forceFloat {
				isFloat = looksFloat(row)
			}
		} else if len(row) != dim {
			return errors.Errorf("feature row has %d columns, want %d", len(row), dim)
		}
		if prevGraph >= 0 && g != prevGraph {
			flush(prevGraph)
		}
		prevGraph = g
		for _, cell := range row {
			if isFloat {
				v, err := strconv.ParseFloat(strings.TrimSpace(cell), 32)
				if err != nil {
					return errors.Wrapf(err, "bad float %q", cell)
				}
				floats = append(floats, float32(v))
			} else {
				v, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 32)
				if err != nil {
					return errors.Wrapf(err, "bad category %q", cell)
				}
				cats = append(cats, int32(v))
			}
		}
		return nil
	}))
	if err != nil {
		return err
	}
	if prevGraph >= 0 {
		flush(prevGraph)
	}
	// Graphs without rows still need their dimensions set.
	for g, done := range assigned {
		if done {
			continue
		}
		if isFloat {
			assign(g, dim, nil, []float32{})
		} else {
			assign(g, dim, []int32{}, nil)
		}
	}
	return nil
}

func looksFloat(row []string) bool {
	for _, cell := range row {
		if strings.ContainsAny(cell, ".eE") {
			return true
		}
		if _, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 32); err != nil {
			return true
		}
	}
	return false
}

// perGraph maps flat row indices to (graph, row-within-graph) using the
// per-graph row counts.
func perGraph(counts []int64, fn func(g, local int, row []string) error) func(row []string) error {
	g, local := 0, int64(0)
	return func(row []string) error {
		for g < len(counts) && local >= counts[g] {
			g++
			local = 0
		}
		if g >= len(counts) {
			return errors.New("more rows than the per-graph counts account for")
		}
		err := fn(g, int(local), row)
		local++
		return err
	}
}

// sanitizeSamples drops graphs that fail validation, with a warning. Bad
// samples happen in practice (empty graphs, out-of-range edge endpoints) and
// must not abort a long run.
func sanitizeSamples(samples []*graphs.Graph) []*graphs.Graph {
	kept := make([]*graphs.Graph, 0, len(samples))
	for i, g := range samples {
		if err := g.Validate(); err != nil {
			klog.Warningf("skipping malformed graph %d: %v", i, err)
			continue
		}
		kept = append(kept, g)
	}
	return kept
}
