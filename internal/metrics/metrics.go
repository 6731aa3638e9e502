package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine and companion collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	loadsTotal      *prometheus.CounterVec   // Loads by result (ok, fetch_error, decode_error, canceled, error)
	loadDuration    prometheus.Histogram     // Wall time from load to ready
	decodeDuration  prometheus.Histogram     // Time spent decoding for rendering
	renderPasses    prometheus.Counter       // Full render passes
	pluginErrors    *prometheus.CounterVec   // Overlays disabled after a failure (by plugin)
	playing         prometheus.Gauge         // 1 while the backend plays
	ankiRequests    *prometheus.CounterVec   // Flashcard server calls (by action and result)
	ankiLatency     *prometheus.HistogramVec // Flashcard server round trip (by action)
	peakCacheLookup *prometheus.CounterVec   // Peak cache lookups (hit, miss, error)
}

// New registers the collectors with reg, or with the default registry when
// reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	var r prometheus.Registerer = prometheus.DefaultRegisterer
	var g prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		r, g = reg, reg
	}
	f := promauto.With(r)
	return &Metrics{
		gatherer: g,
		loadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardwave_loads_total",
				Help: "Audio loads by result",
			},
			[]string{"result"},
		),
		loadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardwave_load_duration_seconds",
				Help:    "Time from load to ready",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		decodeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardwave_decode_duration_seconds",
				Help:    "Time spent decoding audio for rendering",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		renderPasses: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cardwave_render_passes_total",
				Help: "Waveform render passes started",
			},
		),
		pluginErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardwave_plugin_errors_total",
				Help: "Plugin overlays disabled after a failure",
			},
			[]string{"plugin"},
		),
		playing: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardwave_playing",
				Help: "1 while audio is playing",
			},
		),
		ankiRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardwave_anki_requests_total",
				Help: "Flashcard server requests by action and result",
			},
			[]string{"action", "result"},
		),
		ankiLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardwave_anki_request_duration_seconds",
				Help:    "Flashcard server round trip time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		peakCacheLookup: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardwave_peakcache_lookups_total",
				Help: "Peak cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) RecordLoad(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		m.loadDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RecordDecode(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decodeDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRender() {
	if m == nil {
		return
	}
	m.renderPasses.Inc()
}

func (m *Metrics) RecordPluginError(plugin string) {
	if m == nil {
		return
	}
	m.pluginErrors.WithLabelValues(plugin).Inc()
}

func (m *Metrics) SetPlaying(playing bool) {
	if m == nil {
		return
	}
	if playing {
		m.playing.Set(1)
	} else {
		m.playing.Set(0)
	}
}

func (m *Metrics) RecordAnkiRequest(action string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ankiRequests.WithLabelValues(action, result).Inc()
	m.ankiLatency.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordPeakCache(result string) {
	if m == nil {
		return
	}
	m.peakCacheLookup.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
