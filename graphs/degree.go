package graphs

import (
	"k8s.io/klog/v2"
)

// DegreeHistogram computes the in-degree histogram over the given samples,
// counting over the line graph when a sample carries one. The histogram
// grows as needed, starting with minBins bins.
//
// Malformed graphs are skipped with a warning: dataset preparation is
// best-effort, a few broken samples must not abort a long run.
func DegreeHistogram(samples []*Graph, minBins int) []int64 {
	if minBins <= 0 {
		minBins = 10
	}
	hist := make([]int64, minBins)
	for i, sample := range samples {
		if err := sample.Validate(); err != nil {
			klog.Warningf("invalid graph #%d skipped during degree count: %v", i, err)
			continue
		}
		numNodes, targets := sample.NumNodes, sample.EdgeTarget
		if lg := sample.LineGraph; lg != nil {
			numNodes, targets = sample.NumEdges, lg.Target
		}
		degrees := make([]int, numNodes)
		valid := true
		for _, t := range targets {
			if t < 0 || int(t) >= numNodes {
				klog.Warningf("invalid graph #%d skipped during degree count: line-graph edge target %d out of range", i, t)
				valid = false
				break
			}
			degrees[t]++
		}
		if !valid {
			continue
		}
		for _, d := range degrees {
			for d >= len(hist) {
				hist = append(hist, 0)
			}
			hist[d]++
		}
	}
	return hist
}
