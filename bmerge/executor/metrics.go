package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the work done by partition pair tasks. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Tasks         *prometheus.CounterVec
	RowsFetched   *prometheus.CounterVec
	FetchCalls    prometheus.Counter
	ChunksWritten prometheus.Counter
	ChunkBytes    prometheus.Counter
	TaskDuration  prometheus.Histogram
}

// NewMetrics creates the join metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bmerge",
			Name:      "tasks_total",
			Help:      "Partition pair tasks run, by outcome.",
		}, []string{"outcome"}),
		RowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bmerge",
			Name:      "rows_fetched_total",
			Help:      "Rows fetched from owning nodes, by join side.",
		}, []string{"side"}),
		FetchCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmerge",
			Name:      "fetch_calls_total",
			Help:      "Remote row fetch calls issued.",
		}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmerge",
			Name:      "chunks_written_total",
			Help:      "Result column chunks persisted.",
		}),
		ChunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmerge",
			Name:      "chunk_bytes_total",
			Help:      "Compressed bytes of persisted result chunks.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bmerge",
			Name:      "task_duration_seconds",
			Help:      "Wall time of partition pair tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	reg.MustRegister(m.Tasks, m.RowsFetched, m.FetchCalls, m.ChunksWritten, m.ChunkBytes, m.TaskDuration)
	return m
}

func (m *Metrics) taskDone(start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Tasks.WithLabelValues(outcome).Inc()
	m.TaskDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) fetched(side string, rows int) {
	if m == nil {
		return
	}
	m.FetchCalls.Inc()
	m.RowsFetched.WithLabelValues(side).Add(float64(rows))
}

func (m *Metrics) chunkWritten(bytes int) {
	if m == nil {
		return
	}
	m.ChunksWritten.Inc()
	m.ChunkBytes.Add(float64(bytes))
}
