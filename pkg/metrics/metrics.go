package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hydromon/pkg/sample"
	"github.com/itohio/hydromon/pkg/sensor"
)

// Tick results used as label values.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultIO      = "io"
	ResultError   = "error"
)

// Metrics holds the acquisition collectors.
type Metrics struct {
	Ticks           *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	ParseErrors     *prometheus.CounterVec
	DecodeFallbacks *prometheus.CounterVec
	WindowLength    prometheus.Gauge
	LastValue       *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydromon_ticks_total",
			Help: "Acquisition ticks by result.",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hydromon_tick_duration_seconds",
			Help:    "Time spent acquiring one sample.",
			Buckets: prometheus.DefBuckets,
		}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydromon_parse_errors_total",
			Help: "Malformed frames skipped, by channel.",
		}, []string{"channel"}),
		DecodeFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hydromon_decode_fallbacks_total",
			Help: "Register pairs that could not be decoded, by parameter.",
		}, []string{"parameter"}),
		WindowLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hydromon_window_samples",
			Help: "Samples currently held in the telemetry window.",
		}),
		LastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydromon_last_value",
			Help: "Most recent value appended to the window, by parameter.",
		}, []string{"parameter"}),
	}

	reg.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.ParseErrors,
		m.DecodeFallbacks,
		m.WindowLength,
		m.LastValue,
	)
	return m
}

// ParseError implements sensor.Observer.
func (m *Metrics) ParseError(channel string) {
	m.ParseErrors.WithLabelValues(channel).Inc()
}

// DecodeFallback implements sensor.Observer.
func (m *Metrics) DecodeFallback(parameter string) {
	m.DecodeFallbacks.WithLabelValues(parameter).Inc()
}

// TickCompleted records a tick that appended s.
func (m *Metrics) TickCompleted(s sample.Sample, windowLen int, d time.Duration) {
	m.Ticks.WithLabelValues(ResultOK).Inc()
	m.TickDuration.Observe(d.Seconds())
	m.WindowLength.Set(float64(windowLen))
	m.LastValue.WithLabelValues("distance").Set(s.Distance)
	m.LastValue.WithLabelValues("temperature").Set(s.Temperature)
	m.LastValue.WithLabelValues("conductivity").Set(s.Conductivity)
	m.LastValue.WithLabelValues("uv_status").Set(s.UVStatus)
}

// TickFailed records a tick that appended nothing.
func (m *Metrics) TickFailed(err error, d time.Duration) {
	m.Ticks.WithLabelValues(result(err)).Inc()
	m.TickDuration.Observe(d.Seconds())
}

func result(err error) string {
	switch {
	case sensor.IsTimeout(err):
		return ResultTimeout
	case sensor.IsIO(err):
		return ResultIO
	default:
		return ResultError
	}
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
