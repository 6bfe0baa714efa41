// Package metrics exposes Prometheus instrumentation for the filesystem
// bridge.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// BridgeMetrics provides observability for bridge operations.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
type BridgeMetrics interface {
	// RecordOp records a completed operation with its name, duration and
	// resulting errno (0 on success).
	RecordOp(op string, duration time.Duration, errno syscall.Errno)

	// RecordBytes records bytes read or written through open handles.
	//   - direction: "read" or "write"
	RecordBytes(direction string, bytes int)

	// SetItems updates the number of records in the graph index.
	SetItems(n int)

	// SetOpenFiles updates the number of open data handles.
	SetOpenFiles(n int)
}

type bridgeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	items      prometheus.Gauge
	openFiles  prometheus.Gauge
}

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewBridgeMetrics creates a Prometheus-backed BridgeMetrics registered on
// reg. Returns nil when reg is nil.
func NewBridgeMetrics(reg prometheus.Registerer) BridgeMetrics {
	if reg == nil {
		return nil
	}
	return &bridgeMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmxfs_operations_total",
				Help: "Total number of filesystem operations by operation and result",
			},
			[]string{"op", "result"}, // result: "ok" or errno name
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "rmxfs_operation_duration_milliseconds",
				Help: "Duration of filesystem operations in milliseconds",
				Buckets: []float64{
					0.05, // 50us - cached lookups
					0.1,
					0.5,
					1,
					5, // 5ms - fsynced record writes
					10,
					50,
					100,
					500,
				},
			},
			[]string{"op"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmxfs_content_bytes_total",
				Help: "Document content bytes transferred",
			},
			[]string{"direction"},
		),
		items: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rmxfs_items",
			Help: "Number of records in the graph index",
		}),
		openFiles: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rmxfs_open_files",
			Help: "Number of open data handles",
		}),
	}
}

func (m *bridgeMetrics) RecordOp(op string, duration time.Duration, errno syscall.Errno) {
	result := "ok"
	if errno != 0 {
		result = unix.ErrnoName(errno)
		if result == "" {
			result = "errno"
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *bridgeMetrics) RecordBytes(direction string, bytes int) {
	m.bytes.WithLabelValues(direction).Add(float64(bytes))
}

func (m *bridgeMetrics) SetItems(n int) {
	m.items.Set(float64(n))
}

func (m *bridgeMetrics) SetOpenFiles(n int) {
	m.openFiles.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("[Metrics] serving on http://%s/metrics", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
