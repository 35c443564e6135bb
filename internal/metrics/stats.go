package metrics

import "time"

// Window accumulates timing and loss stats across the steps between two
// progress lines.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	sumD    float64
	sumG    float64
	lastD   float64
	lastG   float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, lossD, lossG float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.sumD += lossD
	w.sumG += lossG
	w.lastD = lossD
	w.lastG = lossG
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgLossD = w.sumD / float64(w.steps)
		snap.AvgLossG = w.sumG / float64(w.steps)
	}
	snap.LastLossD = w.lastD
	snap.LastLossG = w.lastG

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgLossD     float64
	AvgLossG     float64
	LastLossD    float64
	LastLossG    float64
}
