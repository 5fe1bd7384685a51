package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpgate"

// Refresh results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the mcpgate collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	TokenRefreshes  *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	APIRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// Passing a *prometheus.Registry also makes Handler serve from it; any other
// Registerer falls back to the default gatherer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token exchanges performed against the token endpoint.",
		}, []string{"result"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Live MCP sessions.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "MCP sessions created.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests handled by the MCP endpoint.",
		}, []string{"method", "code"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Authenticated calls made to the backing API.",
		}, []string{"code"}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.TokenRefreshes, m.SessionsActive, m.SessionsCreated, m.HTTPRequests, m.APIRequests)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler returns the /metrics exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TokenRefreshed records the outcome of one token exchange.
func (m *Metrics) TokenRefreshed(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records a removed session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// HTTPRequest records one request to the MCP endpoint.
func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// APIRequest records one backing API call. A zero code means the call failed
// before a response arrived.
func (m *Metrics) APIRequest(code int) {
	if m == nil {
		return
	}
	label := strconv.Itoa(code)
	if code == 0 {
		label = "error"
	}
	m.APIRequests.WithLabelValues(label).Inc()
}
