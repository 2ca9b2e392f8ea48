package relay

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Metrics holds the live gauges and traffic counters shared by every relay
// of a gateway.
type Metrics struct {
	gauges [statusCount]atomic.Int64

	bytesFromSource      atomic.Uint64
	bytesFromDestination atomic.Uint64
	transactions         atomic.Uint64
	failures             atomic.Uint64
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Gauge returns the number of relays currently in status s.
func (m *Metrics) Gauge(s Status) int64 {
	if !s.IsValid() || s == StatusNone {
		return 0
	}
	return m.gauges[s].Load()
}

func (m *Metrics) move(from, to Status) {
	if from != StatusNone {
		m.gauges[from].Add(-1)
	}
	if to != StatusNone {
		m.gauges[to].Add(1)
	}
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Gauges               map[string]int64
	BytesFromSource      uint64
	BytesFromDestination uint64
	Transactions         uint64
	Failures             uint64
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Gauges:               make(map[string]int64, statusCount),
		BytesFromSource:      m.bytesFromSource.Load(),
		BytesFromDestination: m.bytesFromDestination.Load(),
		Transactions:         m.transactions.Load(),
		Failures:             m.failures.Load(),
	}
	for st := StatusReceivedRequest; st < statusCount; st++ {
		s.Gauges[st.Gauge()] = m.gauges[st].Load()
	}
	return s
}

// String renders the snapshot as space separated key=value pairs.
func (s Snapshot) String() string {
	names := make([]string, 0, len(s.Gauges))
	for name := range s.Gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "transactions=%d failures=%d bytes_from_source=%d bytes_from_destination=%d",
		s.Transactions, s.Failures, s.BytesFromSource, s.BytesFromDestination)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%d", name, s.Gauges[name])
	}
	return b.String()
}

// Tracker follows the status of one relay. Every change moves one unit
// between the gauges of the old and new status.
type Tracker struct {
	mu      sync.Mutex
	status  Status
	metrics *Metrics
}

// NewTracker creates a tracker in StatusNone reporting to metrics.
func NewTracker(metrics *Metrics) *Tracker {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Tracker{metrics: metrics}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Set moves to s when s is exactly one step ahead of the current status.
// Any other assignment resets the tracker to StatusNone and reports false.
func (t *Tracker) Set(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s != t.status+1 || !s.IsValid() {
		t.metrics.move(t.status, StatusNone)
		t.status = StatusNone
		return false
	}
	t.metrics.move(t.status, s)
	t.status = s
	return true
}

// AdvanceTo steps through every status up to s.
func (t *Tracker) AdvanceTo(s Status) {
	for cur := t.Status(); cur < s; cur++ {
		t.Set(cur + 1)
	}
}

// Begin resets the tracker and enters StatusReceivedRequest.
func (t *Tracker) Begin() {
	t.Reset()
	t.Set(StatusReceivedRequest)
}

// Reset returns to StatusNone.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.move(t.status, StatusNone)
	t.status = StatusNone
}
