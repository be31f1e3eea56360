// Command molgraphs_train trains and evaluates graph property prediction
// models on molecular graph datasets.
//
// It supports deep residual message passing (deepergcn), structural message
// passing (smp) and the line-graph variants of both, on OGB-style gzip CSV
// datasets or on a built-in synthetic dataset. Hyperparameters are set
// through --set, e.g.:
//
//	molgraphs_train --dataset=synthetic --set="model=deepergcn_lg;num_epochs=50;learning_rate=3e-4"
package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/xla"

	"github.com/gomlx/molgraphs/datasets"
	"github.com/gomlx/molgraphs/deepergcn"
	"github.com/gomlx/molgraphs/graphs"
	"github.com/gomlx/molgraphs/smp"
	"github.com/gomlx/molgraphs/training"
	"github.com/gomlx/molgraphs/transforms"
)

// ValidModels is the list of model types supported.
var ValidModels = []string{"deepergcn", "deepergcn_lg", "smp", "smp_lg"}

var modelFns = map[string]train.ModelFn{
	"deepergcn":    deepergcn.ModelGraph,
	"deepergcn_lg": deepergcn.LineGraphModelGraph,
	"smp":          smp.ModelGraph,
	"smp_lg":       smp.LineGraphModelGraph,
}

var (
	flagDataDir = flag.String("data", "~/work/molgraphs", "Directory to cache downloaded dataset files.")
	flagDataset = flag.String("dataset", "synthetic", "Dataset to train on: \"synthetic\" or the name of "+
		"an OGB-style gzip CSV directory under --data.")
	flagDatasetURL = flag.String("dataset_url", "", "Optional URL of a zip with the dataset, downloaded "+
		"into --data when the raw files are missing.")
	flagTask = flag.String("task", datasets.TaskRegression, "Task type of the dataset: "+
		"binary_classification, multi_class or regression.")
	flagNumClasses = flag.Int("num_classes", 0, "Number of classes, for multi_class CSV datasets.")
	flagSplit      = flag.String("split", "scaffold", "Split name of OGB-style datasets, a subdirectory of split/.")

	flagRunDir = flag.String("run", "", "Run directory to resume or evaluate. "+
		"If empty, training creates a fresh directory under runs/.")
	flagEvalOnly = flag.Bool("eval_only", false, "Skip training and only evaluate the model in --run.")
)

// createDefaultContext sets the context with the default hyperparameters.
// All of them can be overridden with --set.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"model":      ValidModels[0],
		"batch_size": 32,

		// Training schedule.
		training.ParamNumEpochs:       100,
		training.ParamRunsDir:         "runs",
		training.ParamNumCheckpoints:  3,
		training.ParamWarmupEpochs:    2,
		training.ParamPlateauFactor:   0.5,
		training.ParamPlateauPatience: 10,
		training.ParamMinLearningRate: 1e-5,

		optimizers.ParamOptimizer:       "adamw",
		optimizers.ParamLearningRate:    1e-3,
		cosineschedule.ParamPeriodSteps: 0,
		activations.ParamActivation:     "relu",
		layers.ParamNormalization:       "batch",
		layers.ParamDropoutRate:         0.2,
		regularizers.ParamL2:            0.0,

		// Geometric featurization.
		"distance_source":     transforms.DistanceCoords,
		"ppr_distance":        false,
		"ppr_alpha":           0.15,
		"basis_type":          "gaussian",
		"dist_basis_dim":      16,
		"angle_basis_dim":     9,
		"angle_mode":          transforms.AngleCenter,
		"max_distance":        4.0,
		"basis_to_edge_attrs": false,

		// Synthetic dataset.
		"synthetic_samples": 512,

		// Deep residual message passing.
		deepergcn.ParamHiddenDim:       256,
		deepergcn.ParamNumLayers:       7,
		deepergcn.ParamAggregation:     "softmax",
		deepergcn.ParamLearnT:          true,
		deepergcn.ParamInitT:           1.0,
		deepergcn.ParamLearnP:          false,
		deepergcn.ParamInitP:           1.0,
		deepergcn.ParamMsgNorm:         false,
		deepergcn.ParamLearnMsgScale:   false,
		deepergcn.ParamMLPLayers:       1,
		deepergcn.ParamBasisModulation: deepergcn.ModulationProduct,
		deepergcn.ParamBasisGlobal:     true,
		deepergcn.ParamBasisLocal:      true,
		deepergcn.ParamBasisBottleneck: 0,
		deepergcn.ParamReadout:         "mean",

		// Structural message passing.
		smp.ParamChannels:    32,
		smp.ParamNumLayers:   4,
		smp.ParamHiddenFinal: 128,
		smp.ParamResidual:    true,
		smp.ParamMapFeatures: true,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M(commandline.ParseContextSettings(ctx, *settings))

	*flagDataDir = mldata.ReplaceTildeInDir(*flagDataDir)
	if !mldata.FileExists(*flagDataDir) {
		must.M(os.MkdirAll(*flagDataDir, 0777))
	}

	backend := backends.New()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())

	modelType := context.GetParamOr(ctx, "model", ValidModels[0])
	modelFn, ok := modelFns[modelType]
	if !ok {
		Panicf("Parameter \"model\" must take one value from %v, got %q", ValidModels, modelType)
	}
	fmt.Printf("Model: %s\n", modelType)

	splits := must.M1(makeSplits(ctx, modelType))
	fmt.Printf("Dataset: %s (%d train / %d valid / %d test graphs)\n", splits.Spec.Name,
		splits.Train.NumSamples(), splits.Valid.NumSamples(), splits.Test.NumSamples())

	cfg := &training.Config{
		Backend: backend,
		Context: ctx,
		ModelFn: modelFn,
		Splits:  splits,
		RunDir:  *flagRunDir,
	}
	if *flagEvalOnly {
		must.M(training.Eval(cfg))
	} else {
		must.M(training.Train(cfg))
	}
}

// makeSplits loads (or generates) the dataset, applies the featurization
// transform and wraps the splits as batched datasets.
func makeSplits(ctx *context.Context, modelType string) (*datasets.Splits, error) {
	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		Panicf("Batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	transform := transformFromContext(ctx, strings.HasSuffix(modelType, "_lg"))

	var spec *datasets.Spec
	var trainSplit, validSplit, testSplit []*graphs.Graph
	if *flagDataset == "synthetic" {
		var samples []*graphs.Graph
		spec, samples = datasets.NewSynthetic(datasets.SyntheticOptions{
			NumSamples: context.GetParamOr(ctx, "synthetic_samples", 512),
			TaskType:   *flagTask,
		})
		// 80/10/10 split; the generator already shuffles.
		n := len(samples)
		trainSplit = samples[:n*8/10]
		validSplit = samples[n*8/10 : n*9/10]
		testSplit = samples[n*9/10:]
	} else {
		var err error
		spec, trainSplit, validSplit, testSplit, err = datasets.Load(datasets.LoadOptions{
			Name:       *flagDataset,
			Dir:        path.Join(*flagDataDir, *flagDataset),
			URL:        *flagDatasetURL,
			TaskType:   *flagTask,
			NumClasses: *flagNumClasses,
			SplitName:  *flagSplit,
		})
		if err != nil {
			return nil, err
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("train in-degree histogram: %v", graphs.DegreeHistogram(trainSplit, 16))
	}
	return datasets.Prepare(spec, transform, batchSize, trainSplit, validSplit, testSplit)
}

func transformFromContext(ctx *context.Context, lineGraph bool) transforms.Transform {
	cfg := transforms.Config{
		DistanceSource:    context.GetParamOr(ctx, "distance_source", transforms.DistanceCoords),
		AddPPRDistance:    context.GetParamOr(ctx, "ppr_distance", false),
		PPRAlpha:          context.GetParamOr(ctx, "ppr_alpha", 0.15),
		BasisToEdgeAttrs:  !lineGraph && context.GetParamOr(ctx, "basis_to_edge_attrs", false),
		LineGraphDistance: lineGraph,
		LineGraphAngle:    context.GetParamOr(ctx, "angle_basis_dim", 9) > 0,
		AngleMode:         context.GetParamOr(ctx, "angle_mode", transforms.AngleCenter),
		BasisType:         context.GetParamOr(ctx, "basis_type", "gaussian"),
		DistBasisDim:      context.GetParamOr(ctx, "dist_basis_dim", 16),
		AngleBasisDim:     context.GetParamOr(ctx, "angle_basis_dim", 9),
		MaxDistance:       context.GetParamOr(ctx, "max_distance", 4.0),
	}
	if cfg.DistanceSource == transforms.DistanceNone && !cfg.AddPPRDistance && !lineGraph {
		return nil
	}
	return cfg.Build()
}
