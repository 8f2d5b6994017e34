package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/mpromonet/flowercam/detector"
)

// StatsFunc reports the pipeline counters at scrape time.
type StatsFunc func() detector.Stats

// Monitor owns a private registry with process and pipeline metrics.
type Monitor struct {
	registry *prometheus.Registry
	proc     *process.Process
	logger   *zap.Logger

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge

	Captures *prometheus.CounterVec
	Requests *prometheus.CounterVec
}

func New(stats StatsFunc, logger *zap.Logger) (*Monitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		proc:     proc,
		logger:   logger,
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_megabytes",
			Help: "Resident memory of the process in megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage of the process in percent",
		}),
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captures_total",
			Help: "Annotated captures exported, by result",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.Captures, m.Requests)

	if stats != nil {
		counter := func(name, help string, get func(detector.Stats) int64) prometheus.Collector {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
				func() float64 { return float64(get(stats())) })
		}
		m.registry.MustRegister(
			counter("frames_submitted_total", "Frames handed to the detection pipeline",
				func(s detector.Stats) int64 { return s.Submitted }),
			counter("frames_dropped_total", "Frames replaced by a newer one before processing",
				func(s detector.Stats) int64 { return s.Dropped }),
			counter("frames_processed_total", "Frames that went through a full detection pass",
				func(s detector.Stats) int64 { return s.Processed }),
			counter("frames_empty_total", "Frames reported without detections",
				func(s detector.Stats) int64 { return s.Empty }),
			counter("frames_failed_total", "Frames rejected by preprocessing, inference or decoding",
				func(s detector.Stats) int64 { return s.Failed }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "inference_time_milliseconds",
				Help: "Duration of the last detection pass",
			}, func() float64 { return float64(stats().LastInferenceMs) }),
		)
	}
	return m, nil
}

// Sample refreshes the process gauges.
func (m *Monitor) Sample() {
	if mem, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(mem.RSS / 1024 / 1024))
	} else {
		m.logger.Debug("memory sample failed", zap.Error(err))
	}
	if cpu, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpu*100) / 100)
	} else {
		m.logger.Debug("cpu sample failed", zap.Error(err))
	}
}

// Run samples the process until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
