package engine

// Run throughput and SLOs

import (
	"fmt"
	"sync"
	"time"
)

type BenchmarkResult struct {
	Name       string        `json:"name"`
	Duration   time.Duration `json:"duration"`
	Bars       int           `json:"bars"`
	BarsPerSec float64       `json:"bars_per_sec"`
}

type SLOConfig struct {
	MaxDuration   time.Duration `yaml:"max_duration"`
	MinBarsPerSec float64       `yaml:"min_bars_per_sec"`
}

// PerformanceMonitor collects run timings. It is safe for concurrent use.
type PerformanceMonitor struct {
	config  SLOConfig
	mu      sync.Mutex
	results []BenchmarkResult
}

func NewPerformanceMonitor(config SLOConfig) *PerformanceMonitor {
	return &PerformanceMonitor{
		config:  config,
		results: make([]BenchmarkResult, 0),
	}
}

func (pm *PerformanceMonitor) RecordBenchmark(name string, duration time.Duration, bars int) BenchmarkResult {
	barsPerSec := 0.0
	if duration > 0 {
		barsPerSec = float64(bars) / duration.Seconds()
	}

	result := BenchmarkResult{
		Name:       name,
		Duration:   duration,
		Bars:       bars,
		BarsPerSec: barsPerSec,
	}

	pm.mu.Lock()
	pm.results = append(pm.results, result)
	pm.mu.Unlock()
	return result
}

// Results returns a copy of everything recorded so far.
func (pm *PerformanceMonitor) Results() []BenchmarkResult {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return append([]BenchmarkResult(nil), pm.results...)
}

// CheckSLOs lists every recorded run that broke a configured limit. Zero
// limits are not enforced.
func (pm *PerformanceMonitor) CheckSLOs() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var violations []string
	for _, result := range pm.results {
		if pm.config.MaxDuration > 0 && result.Duration > pm.config.MaxDuration {
			violations = append(violations, fmt.Sprintf("%s exceeded max duration (%s)", result.Name, result.Duration))
		}
		if pm.config.MinBarsPerSec > 0 && result.BarsPerSec < pm.config.MinBarsPerSec {
			violations = append(violations, fmt.Sprintf("%s below minimum bars/sec (%.0f)", result.Name, result.BarsPerSec))
		}
	}

	return violations
}

// BenchmarkSignals times signal computation over every instrument and
// records it under "signals".
func (pm *PerformanceMonitor) BenchmarkSignals(series Series, params SignalParams) BenchmarkResult {
	start := time.Now()
	for _, inst := range series.Instruments() {
		ComputeSignals(series[inst], params)
	}
	return pm.RecordBenchmark("signals", time.Since(start), series.BarCount())
}
