package mocks

import (
	"sync"
	"time"
)

// MockMetricsCollector is a mock implementation of replica.MetricsCollector for testing
type MockMetricsCollector struct {
	mu                   sync.RWMutex
	AppendLatencies      []time.Duration
	AppendsAcceptedCount int
	Rejections           []string
	EntriesTruncated     int64
	EntriesCommitted     int64
	CommitsRejectedCount int
	TermAdvanceCount     int
}

// NewMockMetricsCollector creates a new mock metrics collector
func NewMockMetricsCollector() *MockMetricsCollector {
	return &MockMetricsCollector{
		AppendLatencies: make([]time.Duration, 0),
		Rejections:      make([]string, 0),
	}
}

func (m *MockMetricsCollector) RecordAppendLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendLatencies = append(m.AppendLatencies, latency)
}

func (m *MockMetricsCollector) RecordAppendAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendsAcceptedCount++
}

func (m *MockMetricsCollector) RecordAppendRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rejections = append(m.Rejections, reason)
}

func (m *MockMetricsCollector) RecordTruncation(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesTruncated += n
}

func (m *MockMetricsCollector) RecordCommitted(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesCommitted += n
}

func (m *MockMetricsCollector) RecordCommitRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitsRejectedCount++
}

func (m *MockMetricsCollector) RecordTermAdvance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TermAdvanceCount++
}

// Reset clears all recorded metrics
func (m *MockMetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendLatencies = make([]time.Duration, 0)
	m.AppendsAcceptedCount = 0
	m.Rejections = make([]string, 0)
	m.EntriesTruncated = 0
	m.EntriesCommitted = 0
	m.CommitsRejectedCount = 0
	m.TermAdvanceCount = 0
}
