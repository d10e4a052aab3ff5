package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
)

// ClusterInfoProvider answers Grafana variable queries about the driver's current cluster.
type ClusterInfoProvider interface {
	ClusterID() string
	NumRegisteredNodes() int
	StateName() string
}

// DriverPrometheusManager serves the metrics of one cluster driver.
//
// Every recording method is safe to call on a nil *DriverPrometheusManager, in which case it does nothing.
type DriverPrometheusManager struct {
	*basePrometheusManager

	provider ClusterInfoProvider

	// RegisteredNodesGaugeVec is the number of NodeRecords in the cluster registry.
	RegisteredNodesGaugeVec *prometheus.GaugeVec

	// ClusterStateGaugeVec holds the ordinal of the orchestrator's lifecycle state.
	ClusterStateGaugeVec *prometheus.GaugeVec

	// CompletionSamplesCounterVec counts polls made while waiting for the cluster to drain, by strategy.
	CompletionSamplesCounterVec *prometheus.CounterVec

	// FeedItemsCounterVec counts the items dispatched to worker queues, by queue.
	FeedItemsCounterVec *prometheus.CounterVec

	// RunOutcomesCounterVec counts terminal run outcomes.
	RunOutcomesCounterVec *prometheus.CounterVec

	// PhaseDurationSecondsVec observes how long each orchestrator phase takes.
	PhaseDurationSecondsVec *prometheus.HistogramVec
}

// NewDriverPrometheusManager creates a manager that will serve on port once started. A non-positive port
// registers the metrics without an HTTP listener.
func NewDriverPrometheusManager(port int, provider ClusterInfoProvider, tracer opentracing.Tracer) *DriverPrometheusManager {
	base := newBasePrometheusManager(port, tracer)
	manager := &DriverPrometheusManager{
		basePrometheusManager: base,
		provider:              provider,
	}
	base.instance = manager
	base.initializeInstanceMetrics = manager.initializeInstanceMetrics
	return manager
}

func (m *DriverPrometheusManager) initializeInstanceMetrics() error {
	m.RegisteredNodesGaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "registered_nodes",
		Help:      "Number of nodes in the cluster registry",
	}, []string{"cluster_id"})
	m.ClusterStateGaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cluster_state",
		Help:      "Ordinal of the orchestrator lifecycle state",
	}, []string{"cluster_id"})
	m.CompletionSamplesCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "completion_samples_total",
		Help:      "Number of status polls made while waiting for the cluster to drain",
	}, []string{"cluster_id", "strategy"})
	m.FeedItemsCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "feed_items_total",
		Help:      "Number of items dispatched to worker queues",
	}, []string{"cluster_id", "queue"})
	m.RunOutcomesCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "run_outcomes_total",
		Help:      "Terminal outcomes recorded for runs",
	}, []string{"outcome"})
	m.PhaseDurationSecondsVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of orchestrator phases in seconds",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"phase"})

	return m.register(map[string]prometheus.Collector{
		"Registered Nodes":   m.RegisteredNodesGaugeVec,
		"Cluster State":      m.ClusterStateGaugeVec,
		"Completion Samples": m.CompletionSamplesCounterVec,
		"Feed Items":         m.FeedItemsCounterVec,
		"Run Outcomes":       m.RunOutcomesCounterVec,
		"Phase Duration":     m.PhaseDurationSecondsVec,
	})
}

func (m *DriverPrometheusManager) ready() bool {
	if m == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsInitialized
}

func (m *DriverPrometheusManager) SetRegisteredNodes(clusterId string, n int) {
	if m.ready() {
		m.RegisteredNodesGaugeVec.WithLabelValues(clusterId).Set(float64(n))
	}
}

func (m *DriverPrometheusManager) SetClusterState(clusterId string, ordinal int) {
	if m.ready() {
		m.ClusterStateGaugeVec.WithLabelValues(clusterId).Set(float64(ordinal))
	}
}

func (m *DriverPrometheusManager) IncCompletionSamples(clusterId string, strategy string) {
	if m.ready() {
		m.CompletionSamplesCounterVec.WithLabelValues(clusterId, strategy).Inc()
	}
}

func (m *DriverPrometheusManager) AddFeedItems(clusterId string, queue string, n int) {
	if m.ready() {
		m.FeedItemsCounterVec.WithLabelValues(clusterId, queue).Add(float64(n))
	}
}

func (m *DriverPrometheusManager) IncRunOutcome(outcome string) {
	if m.ready() {
		m.RunOutcomesCounterVec.WithLabelValues(outcome).Inc()
	}
}

func (m *DriverPrometheusManager) ObservePhase(phase string, seconds float64) {
	if m.ready() {
		m.PhaseDurationSecondsVec.WithLabelValues(phase).Observe(seconds)
	}
}

// HandleVariablesRequest handles query requests from Grafana for variables that are required to create Dashboards.
func (m *DriverPrometheusManager) HandleVariablesRequest(c *gin.Context) {
	variable := c.Param("variable_name")
	m.log.Debug("Received query for variable: \"%s\"", variable)

	if m.provider == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	response := make(map[string]interface{})
	switch variable {
	case "num_nodes":
		response["num_nodes"] = m.provider.NumRegisteredNodes()
	case "cluster_id":
		response["cluster_id"] = m.provider.ClusterID()
	case "state":
		response["state"] = m.provider.StateName()
	default:
		m.log.Warn("Received query for unknown variable \"%s\".", variable)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown variable", "variable": variable})
		return
	}

	c.JSON(http.StatusOK, response)
}
