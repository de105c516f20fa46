package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

// Config contains configuration of the telemetry server.
type Config struct {
	Port int `yaml:"port"` // Port of the /metrics endpoint, 2112 if not set.
}

// Measurements collects measurements for prometheus.
type Measurements struct {
	mux        sync.RWMutex
	registry   *prometheus.Registry
	factory    promauto.Factory
	histograms map[string]prometheus.Observer
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
}

// New creates Measurements with its own registry.
func New() *Measurements {
	reg := prometheus.NewRegistry()
	return &Measurements{
		registry:   reg,
		factory:    promauto.With(reg),
		histograms: make(map[string]prometheus.Observer),
		gauges:     make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
	}
}

// CreateObservableHistogram creates observable histogram if it does not exist yet.
func (m *Measurements) CreateObservableHistogram(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.histograms[name]; ok {
		return
	}
	m.histograms[name] = m.factory.NewHistogram(prometheus.HistogramOpts{
		Name: name,
		Help: description,
	})
}

// RecordHistogramTime records histogram time in microseconds if entity with given name exists.
func (m *Measurements) RecordHistogramTime(name string, t time.Duration) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.histograms[name]; ok {
		v.Observe(float64(t.Microseconds()))
		return true
	}
	return false
}

// CreateObservableGauge creates observable gauge if it does not exist yet.
func (m *Measurements) CreateObservableGauge(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.gauges[name]; ok {
		return
	}
	m.gauges[name] = m.factory.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: description,
	})
}

// SetGauge sets the gauge to the value if entity with given name exists.
func (m *Measurements) SetGauge(name string, f float64) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.Set(f)
		return true
	}
	return false
}

// SetToCurrentTimeGauge sets the gauge to the current time if entity with given name exists.
func (m *Measurements) SetToCurrentTimeGauge(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.SetToCurrentTime()
		return true
	}
	return false
}

// CreateCounter creates counter if it does not exist yet.
func (m *Measurements) CreateCounter(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.counters[name]; ok {
		return
	}
	m.counters[name] = m.factory.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: description,
	})
}

// IncrementCounter increments the counter if entity with given name exists.
func (m *Measurements) IncrementCounter(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.counters[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// Names returns names of all metric families gathered from the registry.
func (m *Measurements) Names() ([]string, error) {
	mfs, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	return names, nil
}

// Run starts the server with prometheus telemetry endpoint serving given measurements.
// This function blocks. To stop cancel ctx.
func Run(ctx context.Context, cfg Config, m *Measurements) error {
	port := cfg.Port
	if port > 65535 || port < 0 {
		return fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errC := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	ctxx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctxx)
}
