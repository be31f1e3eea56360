package datasets

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/gomlx/molgraphs/graphs"
	"github.com/gomlx/molgraphs/transforms"
)

// Dataset serves graph samples as padded fixed-shape batches. It implements
// train.Dataset, so it plugs directly into train.NewLoop / trainer.Eval.
//
// Datasets are immutable after creation except for the iteration cursor; the
// With* methods return shallow copies sharing the samples, so one can derive
// a shuffled infinite training view and a sequential evaluation view from
// the same split.
type Dataset struct {
	name    string
	spec    *Spec
	samples []*graphs.Graph

	batchSize int
	shuffle   bool
	infinite  bool

	mu   sync.Mutex
	perm []int
	pos  int
	rng  *rand.Rand
}

// NewDataset wraps a split of samples. The batch size defaults to the spec's
// MaxGraphs budget.
func NewDataset(name string, spec *Spec, samples []*graphs.Graph) *Dataset {
	return &Dataset{
		name:      name,
		spec:      spec,
		samples:   samples,
		batchSize: spec.Budgets.MaxGraphs,
		rng:       rand.New(rand.NewSource(42)),
	}
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Spec returns the dataset metadata shared by all splits.
func (ds *Dataset) Spec() *Spec { return ds.spec }

// NumSamples returns the number of graphs in this split.
func (ds *Dataset) NumSamples() int { return len(ds.samples) }

// Samples exposes the underlying graphs, used by evaluation to recover
// per-sample labels.
func (ds *Dataset) Samples() []*graphs.Graph { return ds.samples }

func (ds *Dataset) copy() *Dataset {
	return &Dataset{
		name:      ds.name,
		spec:      ds.spec,
		samples:   ds.samples,
		batchSize: ds.batchSize,
		shuffle:   ds.shuffle,
		infinite:  ds.infinite,
		rng:       rand.New(rand.NewSource(ds.rng.Int63())),
	}
}

// BatchSize returns a view yielding batches of up to n graphs. n must not
// exceed the padding budget.
func (ds *Dataset) BatchSize(n int) *Dataset {
	c := ds.copy()
	if n > ds.spec.Budgets.MaxGraphs {
		n = ds.spec.Budgets.MaxGraphs
	}
	c.batchSize = n
	return c
}

// Shuffle returns a view that reshuffles the sample order on every Reset.
func (ds *Dataset) Shuffle() *Dataset {
	c := ds.copy()
	c.shuffle = true
	return c
}

// Infinite returns a view that never returns io.EOF, restarting (and
// reshuffling, if enabled) when the split is exhausted. Used with
// train.Loop.RunSteps.
func (ds *Dataset) Infinite() *Dataset {
	c := ds.copy()
	c.infinite = true
	return c
}

// Reset implements train.Dataset, restarting the iteration.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.resetLocked()
}

func (ds *Dataset) resetLocked() {
	ds.pos = 0
	if ds.perm == nil {
		ds.perm = make([]int, len(ds.samples))
		for i := range ds.perm {
			ds.perm[i] = i
		}
	}
	if ds.shuffle {
		ds.rng.Shuffle(len(ds.perm), func(i, j int) {
			ds.perm[i], ds.perm[j] = ds.perm[j], ds.perm[i]
		})
	}
}

// Yield implements train.Dataset: it assembles the next padded batch and
// returns its input and label tensors. The spec returned is the *Spec, which
// keys the compiled model graph.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.perm == nil {
		ds.resetLocked()
	}
	if ds.pos >= len(ds.samples) {
		if !ds.infinite {
			return nil, nil, nil, io.EOF
		}
		ds.resetLocked()
	}
	end := min(ds.pos+ds.batchSize, len(ds.samples))
	picked := make([]*graphs.Graph, 0, end-ds.pos)
	for _, idx := range ds.perm[ds.pos:end] {
		picked = append(picked, ds.samples[idx])
	}
	ds.pos = end

	batch, err := graphs.NewBatch(picked, ds.spec.Budgets, ds.spec.NumTasks)
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "dataset %q", ds.name)
	}
	return ds.spec, batch.Inputs(), batch.Labels(), nil
}

// Splits bundles the three standard splits of a dataset.
type Splits struct {
	Spec               *Spec
	Train, Valid, Test *Dataset
}

// Prepare applies the featurization transform to every split, recomputes the
// spec's dimensions and padding budgets for the given batch size, and (for
// regression tasks) standardizes targets with the training-split statistics.
func Prepare(spec *Spec, transform transforms.Transform, batchSize int,
	train, valid, test []*graphs.Graph) (*Splits, error) {
	if len(train) == 0 {
		return nil, errors.New("empty training split")
	}
	var bar *progressbar.ProgressBar
	if transform != nil {
		bar = progressbar.Default(int64(len(train)+len(valid)+len(test)), "featurizing")
	}
	apply := func(samples []*graphs.Graph) []*graphs.Graph {
		if transform == nil {
			return samples
		}
		out := make([]*graphs.Graph, len(samples))
		for i, g := range samples {
			out[i] = transform(g)
			_ = bar.Add(1)
		}
		return out
	}
	train, valid, test = apply(train), apply(valid), apply(test)
	if bar != nil {
		_ = bar.Finish()
	}
	if spec.TaskType == TaskRegression {
		standardizeTargets(spec, train, valid, test)
	}
	all := make([]*graphs.Graph, 0, len(train)+len(valid)+len(test))
	all = append(all, train...)
	all = append(all, valid...)
	all = append(all, test...)
	spec.refreshFromSamples(all, batchSize)

	return &Splits{
		Spec:  spec,
		Train: NewDataset("train", spec, train),
		Valid: NewDataset("valid", spec, valid),
		Test:  NewDataset("test", spec, test),
	}, nil
}
