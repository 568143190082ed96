package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector tracks drift-engine metrics for Prometheus-compatible export
type Collector struct {
	mu sync.RWMutex

	// Comparison metrics
	comparisonsTotal    map[string]int64          // key: protocol
	comparisonDurations map[string]*HistogramData // key: protocol

	// Drift metrics
	mismatchesTotal map[string]int64 // key: protocol|category
	budgetExceeded  map[string]int64 // key: protocol
	incidentsTotal  map[string]int64 // key: protocol|severity

	// Consumer lookup outcomes: hit, lookup, degraded
	consumerLookups map[string]int64
}

// HistogramData stores histogram-like data for durations
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		comparisonsTotal:    make(map[string]int64),
		comparisonDurations: make(map[string]*HistogramData),
		mismatchesTotal:     make(map[string]int64),
		budgetExceeded:      make(map[string]int64),
		incidentsTotal:      make(map[string]int64),
		consumerLookups:     make(map[string]int64),
	}
}

// RecordComparison records one completed contract comparison
func (c *Collector) RecordComparison(protocol string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.comparisonsTotal[protocol]++

	hd, ok := c.comparisonDurations[protocol]
	if !ok {
		hd = &HistogramData{
			Buckets: make(map[float64]int64),
		}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.comparisonDurations[protocol] = hd
	}

	secs := duration.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// RecordMismatch records one classified mismatch
func (c *Collector) RecordMismatch(protocol, category string) {
	c.mu.Lock()
	c.mismatchesTotal[protocol+"|"+category]++
	c.mu.Unlock()
}

// RecordBudgetExceeded records an operation exceeding its drift budget
func (c *Collector) RecordBudgetExceeded(protocol string) {
	c.mu.Lock()
	c.budgetExceeded[protocol]++
	c.mu.Unlock()
}

// RecordIncident records a drift incident write
func (c *Collector) RecordIncident(protocol, severity string) {
	c.mu.Lock()
	c.incidentsTotal[protocol+"|"+severity]++
	c.mu.Unlock()
}

// RecordConsumerLookup records a consumer registry lookup outcome
func (c *Collector) RecordConsumerLookup(outcome string) {
	c.mu.Lock()
	c.consumerLookups[outcome]++
	c.mu.Unlock()
}

// MetricsSnapshot holds a snapshot of all metrics
type MetricsSnapshot struct {
	ComparisonsTotal    map[string]int64              `json:"comparisons_total"`
	ComparisonDurations map[string]*HistogramSnapshot `json:"comparison_durations"`
	MismatchesTotal     map[string]int64              `json:"mismatches_total"`
	BudgetExceeded      map[string]int64              `json:"budget_exceeded_total"`
	IncidentsTotal      map[string]int64              `json:"incidents_total"`
	ConsumerLookups     map[string]int64              `json:"consumer_lookups"`
}

// HistogramSnapshot is a snapshot of histogram data
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[float64]int64 `json:"buckets"`
}

// Snapshot returns a point-in-time snapshot of all metrics
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &MetricsSnapshot{
		ComparisonsTotal:    make(map[string]int64),
		ComparisonDurations: make(map[string]*HistogramSnapshot),
		MismatchesTotal:     make(map[string]int64),
		BudgetExceeded:      make(map[string]int64),
		IncidentsTotal:      make(map[string]int64),
		ConsumerLookups:     make(map[string]int64),
	}

	for k, v := range c.comparisonsTotal {
		snap.ComparisonsTotal[k] = v
	}

	for k, v := range c.comparisonDurations {
		hs := &HistogramSnapshot{
			Count:   v.Count,
			Sum:     v.Sum,
			Buckets: make(map[float64]int64),
		}
		for b, cnt := range v.Buckets {
			hs.Buckets[b] = cnt
		}
		snap.ComparisonDurations[k] = hs
	}

	for k, v := range c.mismatchesTotal {
		snap.MismatchesTotal[k] = v
	}
	for k, v := range c.budgetExceeded {
		snap.BudgetExceeded[k] = v
	}
	for k, v := range c.incidentsTotal {
		snap.IncidentsTotal[k] = v
	}
	for k, v := range c.consumerLookups {
		snap.ConsumerLookups[k] = v
	}

	return snap
}

// WritePrometheus writes metrics in Prometheus text exposition format
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// driftd_comparisons_total
	writeHelp(w, "driftd_comparisons_total", "Total number of contract comparisons", "counter")
	for protocol, count := range c.comparisonsTotal {
		writeMetric(w, "driftd_comparisons_total", count, "protocol", protocol)
	}

	// driftd_comparison_duration_seconds
	writeHelp(w, "driftd_comparison_duration_seconds", "Comparison duration in seconds", "histogram")
	for protocol, hd := range c.comparisonDurations {
		for _, bound := range DefaultBuckets {
			cnt := hd.Buckets[bound]
			writeMetricFloat(w, "driftd_comparison_duration_seconds_bucket", float64(cnt),
				"protocol", protocol, "le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "driftd_comparison_duration_seconds_bucket", float64(hd.Count),
			"protocol", protocol, "le", "+Inf")
		writeMetricFloat(w, "driftd_comparison_duration_seconds_sum", hd.Sum,
			"protocol", protocol)
		writeMetric(w, "driftd_comparison_duration_seconds_count", hd.Count,
			"protocol", protocol)
	}

	// driftd_mismatches_total
	writeHelp(w, "driftd_mismatches_total", "Total classified mismatches", "counter")
	for key, count := range c.mismatchesTotal {
		parts := splitKey(key, 2)
		if len(parts) == 2 {
			writeMetric(w, "driftd_mismatches_total", count,
				"protocol", parts[0], "category", parts[1])
		}
	}

	// driftd_budget_exceeded_total
	writeHelp(w, "driftd_budget_exceeded_total", "Operations that exceeded their drift budget", "counter")
	for protocol, count := range c.budgetExceeded {
		writeMetric(w, "driftd_budget_exceeded_total", count, "protocol", protocol)
	}

	// driftd_incidents_total
	writeHelp(w, "driftd_incidents_total", "Total drift incident writes", "counter")
	for key, count := range c.incidentsTotal {
		parts := splitKey(key, 2)
		if len(parts) == 2 {
			writeMetric(w, "driftd_incidents_total", count,
				"protocol", parts[0], "severity", parts[1])
		}
	}

	// driftd_consumer_lookups_total
	writeHelp(w, "driftd_consumer_lookups_total", "Consumer registry lookup outcomes", "counter")
	for outcome, count := range c.consumerLookups {
		writeMetric(w, "driftd_consumer_lookups_total", count, "outcome", outcome)
	}
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
