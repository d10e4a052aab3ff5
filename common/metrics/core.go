package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/opentracing-contrib/go-stdlib/nethttp"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scusemua/cluster-orchestrator/common/utils"
)

const Namespace = "cluster_orchestrator"

var (
	ErrPrometheusManagerAlreadyRunning = errors.New("prometheus manager is already running")
	ErrPrometheusManagerNotRunning     = errors.New("prometheus manager is not running")
	ErrMetricsNotInitialized           = errors.New("metrics have not been initialized yet")
)

// prometheusHandler is implemented by concrete managers to answer Grafana variable queries.
type prometheusHandler interface {
	// HandleVariablesRequest handles query requests from Grafana for variables that are required to create Dashboards.
	HandleVariablesRequest(*gin.Context)
}

// basePrometheusManager owns the registry and the HTTP server shared by concrete managers.
type basePrometheusManager struct {
	log logger.Logger

	instance prometheusHandler

	registry          *prometheus.Registry
	prometheusHandler http.Handler
	engine            *gin.Engine
	httpServer        *http.Server
	listener          net.Listener
	tracer            opentracing.Tracer

	// initializeInstanceMetrics is assigned by the concrete manager's constructor.
	initializeInstanceMetrics func() error

	port int
	mu   sync.Mutex

	// serving indicates whether the manager has been started and is serving requests.
	serving            bool
	metricsInitialized bool
}

func newBasePrometheusManager(port int, tracer opentracing.Tracer) *basePrometheusManager {
	registry := prometheus.NewRegistry()
	manager := &basePrometheusManager{
		port:              port,
		registry:          registry,
		prometheusHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		tracer:            tracer,
	}
	config.InitLogger(&manager.log, manager)
	return manager
}

// IsRunning returns true if the manager has been started.
func (m *basePrometheusManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.serving
}

// Registry returns the registry that this manager's metrics are registered with.
func (m *basePrometheusManager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving /metrics and /variables. It is nil before Start.
func (m *basePrometheusManager) Handler() http.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return nil
	}

	return m.engine
}

// Addr returns the address the HTTP server is listening on, or the empty string if it is not listening.
func (m *basePrometheusManager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener == nil {
		return ""
	}

	return m.listener.Addr().String()
}

// Start registers metrics and, if the port is positive, begins serving them over HTTP.
func (m *basePrometheusManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.serving {
		m.log.Warn("Prometheus manager is already running.")
		return ErrPrometheusManagerAlreadyRunning
	}

	if !m.metricsInitialized {
		if err := m.initializeMetrics(); err != nil {
			return err
		}
	}

	if err := m.initializeHttpServer(); err != nil {
		return err
	}

	m.serving = true
	return nil
}

// Stop shuts down the HTTP server.
func (m *basePrometheusManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.serving {
		return ErrPrometheusManagerNotRunning
	}

	m.serving = false
	if m.httpServer == nil {
		return nil
	}

	if err := m.httpServer.Shutdown(context.Background()); err != nil {
		m.log.Error("Failed to cleanly shutdown the HTTP server: %v", err)
		return err
	}

	m.httpServer = nil
	m.listener = nil
	return nil
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (m *basePrometheusManager) HandleRequest(c *gin.Context) {
	m.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

// HandleVariablesRequest handles query requests from Grafana for variables that are required to create Dashboards.
func (m *basePrometheusManager) HandleVariablesRequest(c *gin.Context) {
	m.instance.HandleVariablesRequest(c)
}

func (m *basePrometheusManager) initializeHttpServer() error {
	gin.SetMode(gin.ReleaseMode)
	m.engine = gin.New()
	m.engine.Use(gin.Recovery())
	m.engine.Use(cors.Default())

	m.engine.GET("/variables/:variable_name", m.HandleVariablesRequest)
	m.engine.GET("/metrics", m.HandleRequest)

	if m.port <= 0 {
		m.log.Debug("Prometheus Port is set to %d. Not serving HTTP server.", m.port)
		return nil
	}

	address := fmt.Sprintf("0.0.0.0:%d", m.port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		m.log.Error(utils.RedStyle.Render("HTTP Server failed to listen on '%s'. Error: %v"), address, err)
		return errors.Wrapf(err, "failed to listen on \"%s\"", address)
	}

	var handler http.Handler = m.engine
	if m.tracer != nil {
		handler = nethttp.Middleware(m.tracer, m.engine)
	}

	m.listener = listener
	m.httpServer = &http.Server{Handler: handler}

	server := m.httpServer
	go func() {
		m.log.Debug("Serving Prometheus metrics at %s", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("HTTP Server stopped serving: %v", err)
		}
	}()

	return nil
}

func (m *basePrometheusManager) initializeMetrics() error {
	if m.initializeInstanceMetrics == nil {
		panic("Base Prometheus Manager's `initializeInstanceMetrics` field cannot be nil when initializing metrics.")
	}

	if err := m.initializeInstanceMetrics(); err != nil {
		return err
	}

	m.metricsInitialized = true
	return nil
}

// register registers each collector, stopping at the first failure.
func (m *basePrometheusManager) register(collectors map[string]prometheus.Collector) error {
	for name, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			m.log.Error("Failed to register '%s' metric because: %v", name, err)
			return errors.Wrapf(err, "failed to register \"%s\"", name)
		}
	}

	return nil
}
