package lim

import (
	"sync"
	"time"

	"binpastes/metrics"
	"binpastes/svc/util"
)

const (
	windowBuckets      = 5
	minWindowRequests  = 10
	errorRateThreshold = 5.0
)

// AnomalyDetector keeps a rolling window of request and 5xx counts and calls
// onAnomaly when the error rate over the window is too high.
type AnomalyDetector struct {
	mu           sync.Mutex
	window       [windowBuckets]bucket
	currentIndex int
	interval     time.Duration
	onAnomaly    func()
	done         chan struct{}
	stopOnce     sync.Once
}
type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(interval time.Duration, onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		interval:  interval,
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}
func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(d.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	d.window[d.currentIndex].requests++
	d.mu.Unlock()
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	d.window[d.currentIndex].errors++
	d.mu.Unlock()
}

// AdvanceWindow publishes the error rate and rotates to a fresh bucket. It
// returns the rate it published.
func (d *AnomalyDetector) AdvanceWindow() float64 {
	d.mu.Lock()
	var totalReqs, totalErrs int64
	for _, b := range d.window {
		totalReqs += b.requests
		totalErrs += b.errors
	}
	d.currentIndex = (d.currentIndex + 1) % windowBuckets
	d.window[d.currentIndex] = bucket{}
	d.mu.Unlock()

	var errorRate float64
	if totalReqs > 0 {
		errorRate = float64(totalErrs) / float64(totalReqs) * 100.0
	}
	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > minWindowRequests && errorRate > errorRateThreshold {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("high error rate, tightening rate limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
	return errorRate
}
