package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

// MemoryMetrics keeps everything in process memory. Good enough for
// tests and single-node deployments that only read metrics through
// GetMetrics.
type MemoryMetrics struct {
	logger     types.Logger
	prefix     string
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
	running    int32
	mu         sync.RWMutex
}

type metricSnapshot struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	return &MemoryMetrics{
		logger:     logger,
		prefix:     config.Prefix,
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrAlreadyRunning
	}
	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrNotRunning
	}
	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := m.buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &memoryCounter{name: name, labels: labels}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := m.buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &memoryGauge{name: name, labels: labels}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := m.buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &memoryHistogram{name: name, labels: labels, buckets: buckets}
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := make([]metricSnapshot, 0, len(m.counters)+len(m.gauges)+len(m.histograms))
	for _, counter := range m.counters {
		snapshots = append(snapshots, metricSnapshot{
			Name:   m.prefixed(counter.name),
			Type:   "counter",
			Value:  counter.Get(),
			Labels: counter.labels,
		})
	}
	for _, gauge := range m.gauges {
		snapshots = append(snapshots, metricSnapshot{
			Name:   m.prefixed(gauge.name),
			Type:   "gauge",
			Value:  gauge.Get(),
			Labels: gauge.labels,
		})
	}
	for _, histogram := range m.histograms {
		snapshots = append(snapshots, metricSnapshot{
			Name:   m.prefixed(histogram.name),
			Type:   "histogram",
			Value:  histogram.Sum(),
			Labels: histogram.labels,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})

	return utils.Marshal(snapshots)
}

func (m *MemoryMetrics) prefixed(name string) string {
	if m.prefix == "" {
		return name
	}
	return m.prefix + "_" + name
}

func (m *MemoryMetrics) buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}

type memoryCounter struct {
	name   string
	labels map[string]string
	bits   uint64
}

func (c *memoryCounter) Inc() { c.Add(1) }

func (c *memoryCounter) Add(value float64) {
	for {
		old := atomic.LoadUint64(&c.bits)
		next := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&c.bits, old, next) {
			return
		}
	}
}

func (c *memoryCounter) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.bits))
}

type memoryGauge struct {
	name   string
	labels map[string]string
	bits   uint64
}

func (g *memoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(value))
}

func (g *memoryGauge) Inc() { g.add(1) }
func (g *memoryGauge) Dec() { g.add(-1) }

func (g *memoryGauge) add(value float64) {
	for {
		old := atomic.LoadUint64(&g.bits)
		next := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&g.bits, old, next) {
			return
		}
	}
}

func (g *memoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

type memoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	mu      sync.Mutex
	count   uint64
	sum     float64
}

func (h *memoryHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}

func (h *memoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *memoryHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
