package training

import (
	"math"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

var (
	// ParamWarmupEpochs ramps the learning rate linearly from near zero to
	// its configured value over the first epochs. Default is 2.
	ParamWarmupEpochs = "warmup_epochs"

	// ParamPlateauFactor multiplies the learning rate when the validation
	// loss stops improving. Default is 0.5. Set to 1.0 to disable the
	// reduce-on-plateau schedule.
	ParamPlateauFactor = "plateau_factor"

	// ParamPlateauPatience is the number of epochs without validation
	// improvement tolerated before reducing the learning rate. Default is 10.
	ParamPlateauPatience = "plateau_patience"

	// ParamMinLearningRate stops training once a plateau reduction would
	// push the learning rate below it. Default is 1e-5.
	ParamMinLearningRate = "min_learning_rate"
)

// lrScheduler adjusts the learning rate between epochs, from the host side:
// a linear warmup for the first epochs, then reduce-on-plateau driven by the
// validation loss. The cosine schedule is graph-side instead, see
// package cosineschedule.
type lrScheduler struct {
	ctx *context.Context

	base         float64
	warmupEpochs int
	factor       float64
	patience     int
	minLR        float64

	current  float64
	bestLoss float64
	badCount int
}

func newLRScheduler(ctx *context.Context) *lrScheduler {
	return &lrScheduler{
		ctx:          ctx,
		base:         context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.001),
		warmupEpochs: context.GetParamOr(ctx, ParamWarmupEpochs, 2),
		factor:       context.GetParamOr(ctx, ParamPlateauFactor, 0.5),
		patience:     context.GetParamOr(ctx, ParamPlateauPatience, 10),
		minLR:        context.GetParamOr(ctx, ParamMinLearningRate, 1e-5),
		current:      context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.001),
		bestLoss:     math.Inf(1),
	}
}

// StartEpoch sets the learning rate used during the given epoch (0-based).
func (s *lrScheduler) StartEpoch(epoch int) {
	lr := s.current
	if epoch < s.warmupEpochs {
		lr = s.base * float64(epoch+1) / float64(s.warmupEpochs)
	}
	s.apply(lr)
}

// OnValidation observes the epoch's validation loss and applies the plateau
// schedule. It returns false when training should stop: the loss plateaued
// and the learning rate is already at its floor.
func (s *lrScheduler) OnValidation(validLoss float64) (keepTraining bool) {
	if s.factor >= 1 {
		return true
	}
	if validLoss < s.bestLoss {
		s.bestLoss = validLoss
		s.badCount = 0
		return true
	}
	s.badCount++
	if s.badCount < s.patience {
		return true
	}
	s.badCount = 0
	reduced := s.current * s.factor
	if reduced < s.minLR {
		klog.Infof("validation loss plateaued at learning rate %.3g (minimum %.3g), stopping", s.current, s.minLR)
		return false
	}
	klog.Infof("validation loss plateaued, reducing learning rate %.3g -> %.3g", s.current, reduced)
	s.current = reduced
	return true
}

// LearningRate is the rate the scheduler last applied.
func (s *lrScheduler) LearningRate() float64 {
	lrVar := optimizers.LearningRateVar(s.ctx, dtypes.Float32, s.base)
	return float64(tensors.ToScalar[float32](lrVar.Value()))
}

func (s *lrScheduler) apply(lr float64) {
	lrVar := optimizers.LearningRateVar(s.ctx, dtypes.Float32, s.base)
	lrVar.SetValue(tensors.FromScalar(float32(lr)))
}
