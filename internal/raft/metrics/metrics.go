package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects counters and latencies for the operations of one replica
type Metrics struct {
	mu sync.RWMutex

	// Time spent deciding and persisting each append
	appendLatencies []time.Duration
	// Rejected appends keyed by the rejection message
	rejections map[string]uint64

	appendsAccepted  atomic.Uint64
	appendsRejected  atomic.Uint64
	entriesTruncated atomic.Uint64
	entriesCommitted atomic.Uint64
	commitsRejected  atomic.Uint64
	termAdvances     atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		appendLatencies: make([]time.Duration, 0, 10000), // Pre-allocate for performance
		rejections:      make(map[string]uint64),
		startTime:       time.Now(),
	}
}

// RecordAppendLatency records how long a single append took
func (m *Metrics) RecordAppendLatency(latency time.Duration) {
	m.mu.Lock()
	m.appendLatencies = append(m.appendLatencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) RecordAppendAccepted() {
	m.appendsAccepted.Add(1)
}

// RecordAppendRejected counts a rejected append under its rejection message
func (m *Metrics) RecordAppendRejected(reason string) {
	m.appendsRejected.Add(1)
	m.mu.Lock()
	m.rejections[reason]++
	m.mu.Unlock()
}

// RecordTruncation adds n entries discarded by conflict truncation
func (m *Metrics) RecordTruncation(n int64) {
	if n > 0 {
		m.entriesTruncated.Add(uint64(n))
	}
}

// RecordCommitted adds n newly committed entries
func (m *Metrics) RecordCommitted(n int64) {
	if n > 0 {
		m.entriesCommitted.Add(uint64(n))
	}
}

func (m *Metrics) RecordCommitRejected() {
	m.commitsRejected.Add(1)
}

func (m *Metrics) RecordTermAdvance() {
	m.termAdvances.Add(1)
}

// LatencyStats contains percentile statistics for latencies
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Mean   float64 `json:"mean_ms"`
	P50    float64 `json:"p50_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"stddev_ms"`
}

// GetLatencyStats computes percentile statistics from recorded append latencies
func (m *Metrics) GetLatencyStats() LatencyStats {
	m.mu.RLock()
	latencies := make([]time.Duration, len(m.appendLatencies))
	copy(latencies, m.appendLatencies)
	m.mu.RUnlock()

	return computeStats(latencies)
}

func computeStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sort.Slice(durations, func(i, j int) bool {
		return durations[i] < durations[j]
	})

	durationsMs := make([]float64, len(durations))
	var sum float64
	for i, d := range durations {
		ms := float64(d.Microseconds()) / 1000.0
		durationsMs[i] = ms
		sum += ms
	}

	mean := sum / float64(len(durationsMs))

	var variance float64
	for _, d := range durationsMs {
		diff := d - mean
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(durationsMs)))

	return LatencyStats{
		Count:  len(durations),
		Min:    durationsMs[0],
		Max:    durationsMs[len(durationsMs)-1],
		Mean:   mean,
		P50:    percentile(durationsMs, 50),
		P95:    percentile(durationsMs, 95),
		P99:    percentile(durationsMs, 99),
		StdDev: stddev,
	}
}

// percentile calculates the nth percentile from sorted data
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	// Linear interpolation
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// GetThroughput returns committed entries per second since the collector was created or reset
func (m *Metrics) GetThroughput() float64 {
	elapsed := time.Since(m.started()).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.entriesCommitted.Load()) / elapsed
}

func (m *Metrics) started() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startTime
}

// Report contains all collected metrics
type Report struct {
	NodeID    string    `json:"node_id"`
	Duration  float64   `json:"duration_seconds"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	AppendsAccepted uint64            `json:"appends_accepted"`
	AppendsRejected uint64            `json:"appends_rejected"`
	Rejections      map[string]uint64 `json:"rejections"`
	AppendLatency   LatencyStats      `json:"append_latency"`

	EntriesTruncated uint64  `json:"entries_truncated"`
	EntriesCommitted uint64  `json:"entries_committed"`
	CommitsRejected  uint64  `json:"commits_rejected"`
	ThroughputSec    float64 `json:"commit_throughput_per_sec"`

	TermAdvances uint64 `json:"term_advances"`
}

// GetReport generates a report of everything collected so far
func (m *Metrics) GetReport(nodeID string) Report {
	endTime := time.Now()
	startTime := m.started()

	m.mu.RLock()
	rejections := make(map[string]uint64, len(m.rejections))
	for reason, n := range m.rejections {
		rejections[reason] = n
	}
	m.mu.RUnlock()

	return Report{
		NodeID:           nodeID,
		Duration:         endTime.Sub(startTime).Seconds(),
		StartTime:        startTime,
		EndTime:          endTime,
		AppendsAccepted:  m.appendsAccepted.Load(),
		AppendsRejected:  m.appendsRejected.Load(),
		Rejections:       rejections,
		AppendLatency:    m.GetLatencyStats(),
		EntriesTruncated: m.entriesTruncated.Load(),
		EntriesCommitted: m.entriesCommitted.Load(),
		CommitsRejected:  m.commitsRejected.Load(),
		ThroughputSec:    m.GetThroughput(),
		TermAdvances:     m.termAdvances.Load(),
	}
}

// PrintReport writes the report in a human-readable format
func (r *Report) PrintReport(w io.Writer) {
	rule := strings.Repeat("=", 48)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "REPLICATED LOG REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Node: %s\n", r.NodeID)
	fmt.Fprintf(w, "Duration: %.2f seconds\n", r.Duration)

	fmt.Fprintf(w, "\nAppends:\n")
	fmt.Fprintf(w, "  Accepted: %d\n", r.AppendsAccepted)
	fmt.Fprintf(w, "  Rejected: %d\n", r.AppendsRejected)
	reasons := make([]string, 0, len(r.Rejections))
	for reason := range r.Rejections {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "    %s: %d\n", reason, r.Rejections[reason])
	}
	fmt.Fprintf(w, "  Entries truncated: %d\n", r.EntriesTruncated)

	fmt.Fprintf(w, "\nAppend Latency:\n")
	if r.AppendLatency.Count > 0 {
		fmt.Fprintf(w, "  Count: %d\n", r.AppendLatency.Count)
		fmt.Fprintf(w, "  Mean: %.3f ms\n", r.AppendLatency.Mean)
		fmt.Fprintf(w, "  P50: %.3f ms\n", r.AppendLatency.P50)
		fmt.Fprintf(w, "  P95: %.3f ms\n", r.AppendLatency.P95)
		fmt.Fprintf(w, "  P99: %.3f ms\n", r.AppendLatency.P99)
		fmt.Fprintf(w, "  Max: %.3f ms\n", r.AppendLatency.Max)
	} else {
		fmt.Fprintf(w, "  No data collected\n")
	}

	fmt.Fprintf(w, "\nCommits:\n")
	fmt.Fprintf(w, "  Entries committed: %d\n", r.EntriesCommitted)
	fmt.Fprintf(w, "  Rejected commit requests: %d\n", r.CommitsRejected)
	fmt.Fprintf(w, "  Throughput: %.2f entries/sec\n", r.ThroughputSec)

	fmt.Fprintf(w, "\nTerm advances: %d\n", r.TermAdvances)
	fmt.Fprintln(w, rule)
}

// SaveJSON writes the report to filename
func (r *Report) SaveJSON(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Reset clears all collected metrics
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.appendLatencies = make([]time.Duration, 0, 10000)
	m.rejections = make(map[string]uint64)
	m.startTime = time.Now()
	m.mu.Unlock()

	m.appendsAccepted.Store(0)
	m.appendsRejected.Store(0)
	m.entriesTruncated.Store(0)
	m.entriesCommitted.Store(0)
	m.commitsRejected.Store(0)
	m.termAdvances.Store(0)
}
