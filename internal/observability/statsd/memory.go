package statsd

import (
	"sync"
	"time"
)

// Sample is one metric recorded by MemorySink.
type Sample struct {
	Kind  string
	Name  string
	Value float64
	Tags  map[string]string
}

// MemorySink records metrics in memory. It backs tests and the admin CLI dry runs.
type MemorySink struct {
	mu      sync.Mutex
	samples []Sample
}

var _ Sink = (*MemorySink)(nil)

// Count implements Sink.
func (m *MemorySink) Count(name string, value int64, tags map[string]string) {
	m.record(Sample{Kind: "c", Name: name, Value: float64(value), Tags: copyTags(tags)})
}

// Gauge implements Sink.
func (m *MemorySink) Gauge(name string, value float64, tags map[string]string) {
	m.record(Sample{Kind: "g", Name: name, Value: value, Tags: copyTags(tags)})
}

// Timing implements Sink.
func (m *MemorySink) Timing(name string, value time.Duration, tags map[string]string) {
	m.record(Sample{Kind: "ms", Name: name, Value: float64(value) / float64(time.Millisecond), Tags: copyTags(tags)})
}

// Samples returns a snapshot of all recorded samples.
func (m *MemorySink) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.samples...)
}

// CountTotal sums counters named name whose tags include match.
func (m *MemorySink) CountTotal(name string, match map[string]string) int64 {
	var total float64
	for _, s := range m.Samples() {
		if s.Kind != "c" || s.Name != name || !tagsMatch(s.Tags, match) {
			continue
		}
		total += s.Value
	}
	return int64(total)
}

func (m *MemorySink) record(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
}

func tagsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
