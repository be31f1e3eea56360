// Package training drives the optimization of the graph property models:
// an epoch loop with linear warmup and reduce-on-plateau learning rate
// scheduling (or a graph-side cosine schedule), checkpointing, a per-epoch
// metrics log with learning-curve plots, and host-side ranking evaluators.
//
// Each training run writes into its own directory, by default
// runs/<uuid>, holding the checkpoints, metrics.jsonl and the plots, so
// experiments never clobber each other.
package training

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/molgraphs/datasets"
)

var (
	// ParamNumEpochs is the number of training epochs. The plateau schedule
	// may stop earlier. Default is 100.
	ParamNumEpochs = "num_epochs"

	// ParamRunsDir is where run directories are created when Config.RunDir
	// is empty. Default is "runs".
	ParamRunsDir = "runs_dir"

	// ParamNumCheckpoints is the number of past checkpoints to keep.
	// Default is 3.
	ParamNumCheckpoints = "num_checkpoints"
)

// Config ties together everything a run needs. The hyperparameters
// themselves live in the Context.
type Config struct {
	Backend backends.Backend
	Context *context.Context

	// ModelFn builds the logits, e.g. deepergcn.ModelGraph.
	ModelFn train.ModelFn

	Splits *datasets.Splits

	// RunDir holds the checkpoints, the metrics log and the plots. When
	// empty, Train creates a fresh <runs_dir>/<uuid> directory.
	RunDir string
}

// Train runs the full training: epoch loop with per-epoch validation,
// learning rate scheduling, periodic checkpoints, and a final report with
// the host-side evaluators on every split.
func Train(cfg *Config) error {
	ctx := cfg.Context
	numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 100)

	if err := setupRunDir(cfg); err != nil {
		return err
	}
	klog.Infof("run directory: %s", cfg.RunDir)

	keep := context.GetParamOr(ctx, ParamNumCheckpoints, 3)
	checkpoint, err := checkpoints.Build(ctx).Dir(path.Join(cfg.RunDir, "checkpoint")).Keep(keep).Done()
	if err != nil {
		return errors.WithMessagef(err, "while setting up checkpointing in %q", cfg.RunDir)
	}
	if globalStep := optimizers.GetGlobalStep(ctx); globalStep != 0 {
		klog.Infof("restarting training from global_step=%d", globalStep)
	}
	// Snapshot the settings, so the run is reproducible from its directory.
	settings := commandline.SprintContextSettings(ctx)
	if err := os.WriteFile(path.Join(cfg.RunDir, "settings.txt"), []byte(settings), 0644); err != nil {
		return errors.Wrap(err, "writing settings snapshot")
	}

	trainer := newTrainer(cfg)
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)
	train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100,
		func(loop *train.Loop, metrics []*tensors.Tensor) error {
			return checkpoint.Save()
		})

	trainDS := cfg.Splits.Train.Shuffle()
	sched := newLRScheduler(ctx)
	cosine := context.GetParamOr(ctx, cosineschedule.ParamPeriodSteps, 0) != 0
	history := NewHistory(cfg.RunDir)

	for epoch := 0; epoch < numEpochs; epoch++ {
		if !cosine {
			sched.StartEpoch(epoch)
		}
		trainValues, err := loop.RunEpochs(trainDS, 1)
		if err != nil {
			return errors.WithMessagef(err, "while training epoch %d", epoch)
		}

		var validValues []*tensors.Tensor
		err = exceptions.TryCatch[error](func() {
			validValues = trainer.Eval(cfg.Splits.Valid)
		})
		if err != nil {
			return errors.WithMessagef(err, "while evaluating epoch %d", epoch)
		}

		record := Record{
			Epoch:        epoch,
			GlobalStep:   optimizers.GetGlobalStep(ctx),
			LearningRate: sched.LearningRate(),
			Metrics:      make(map[string]float64),
		}
		recordMetrics(record.Metrics, "train", trainer.TrainMetrics(), trainValues)
		recordMetrics(record.Metrics, "valid", trainer.EvalMetrics(), validValues)
		if err := history.Append(record); err != nil {
			klog.Warningf("failed to append metrics record: %+v", err)
		}

		// The trainer's first eval metric is the loss.
		validLoss := metricValue(validValues[0])
		if !cosine && !sched.OnValidation(validLoss) {
			break
		}
	}

	if err := checkpoint.Save(); err != nil {
		klog.Errorf("failed to save final checkpoint in %q: %+v", cfg.RunDir, err)
	}
	klog.Infof("median train step duration: %s", loop.MedianTrainStepDuration())
	if err := history.Plot(); err != nil {
		klog.Warningf("failed to render learning-curve plots: %+v", err)
	}

	fmt.Println()
	if err := commandline.ReportEval(trainer, cfg.Splits.Train, cfg.Splits.Valid, cfg.Splits.Test); err != nil {
		return errors.WithMessage(err, "while reporting eval")
	}
	return reportEvaluators(cfg)
}

// Eval loads the model from Config.RunDir and reports the metrics of every
// split, without training.
func Eval(cfg *Config) error {
	ctx := cfg.Context
	if cfg.RunDir == "" {
		return errors.New("evaluation needs the run directory of a trained model")
	}
	cfg.RunDir = mldata.ReplaceTildeInDir(cfg.RunDir)
	_, err := checkpoints.Build(ctx).Dir(path.Join(cfg.RunDir, "checkpoint")).Done()
	if err != nil {
		return errors.WithMessagef(err, "while loading checkpoint from %q", cfg.RunDir)
	}
	klog.Infof("model in %q trained for %d steps", cfg.RunDir, optimizers.GetGlobalStep(ctx))

	trainer := newTrainer(cfg)
	if err := commandline.ReportEval(trainer, cfg.Splits.Train, cfg.Splits.Valid, cfg.Splits.Test); err != nil {
		return errors.WithMessage(err, "while reporting eval")
	}
	return reportEvaluators(cfg)
}

func newTrainer(cfg *Config) *train.Trainer {
	spec := cfg.Splits.Spec
	return train.NewTrainer(cfg.Backend, cfg.Context,
		withCosineSchedule(cfg.ModelFn),
		LossFromSpec(spec),
		optimizers.FromContext(cfg.Context),
		TrainMetricsFromSpec(spec),
		EvalMetricsFromSpec(spec))
}

// withCosineSchedule wires the graph-side cosine annealing of the learning
// rate. It is a no-op unless cosine_schedule_steps is set in the context.
func withCosineSchedule(modelFn train.ModelFn) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		cosineschedule.New(ctx, inputs[0].Graph(), dtypes.Float32).FromContext().Done()
		return modelFn(ctx, spec, inputs)
	}
}

func setupRunDir(cfg *Config) error {
	if cfg.RunDir == "" {
		runsDir := context.GetParamOr(cfg.Context, ParamRunsDir, "runs")
		cfg.RunDir = path.Join(runsDir, uuid.NewString())
	}
	cfg.RunDir = mldata.ReplaceTildeInDir(cfg.RunDir)
	if err := os.MkdirAll(cfg.RunDir, 0755); err != nil {
		return errors.Wrapf(err, "creating run directory %q", cfg.RunDir)
	}
	return nil
}

func reportEvaluators(cfg *Config) error {
	evaluations, err := Evaluate(cfg.Backend, cfg.Context, cfg.ModelFn, cfg.Splits.Spec,
		cfg.Splits.Valid, cfg.Splits.Test)
	if err != nil {
		return err
	}
	for _, e := range evaluations {
		fmt.Println(e)
	}
	return nil
}

func recordMetrics(into map[string]float64, split string, defs []metrics.Interface, values []*tensors.Tensor) {
	for i, def := range defs {
		if i >= len(values) {
			return
		}
		into[split+"/"+def.ShortName()] = metricValue(values[i])
	}
}

func metricValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
