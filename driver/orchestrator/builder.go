package orchestrator

import (
	"os"

	"github.com/Scusemua/go-utils/config"
	"github.com/opentracing/opentracing-go"

	"github.com/scusemua/cluster-orchestrator/common/dfs"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/metrics"
	"github.com/scusemua/cluster-orchestrator/common/rendezvous"
	"github.com/scusemua/cluster-orchestrator/node"
)

// Builder constructs an Orchestrator.
type Builder struct {
	o *Orchestrator
}

func NewBuilder(eng engine.Engine) *Builder {
	return &Builder{o: &Orchestrator{engine: eng}}
}

func (b *Builder) WithProvider(provider dfs.Provider) *Builder {
	b.o.provider = provider
	return b
}

func (b *Builder) WithSink(sink experiment.Sink) *Builder {
	b.o.sink = sink
	return b
}

func (b *Builder) WithTracer(tracer opentracing.Tracer) *Builder {
	b.o.tracer = tracer
	return b
}

func (b *Builder) WithMetricsManager(m *metrics.DriverPrometheusManager) *Builder {
	b.o.metrics = m
	return b
}

// WithRegistrar publishes the rendezvous server of every run with registrar.
func (b *Builder) WithRegistrar(registrar rendezvous.Registrar) *Builder {
	b.o.registrar = registrar
	return b
}

// WithListenHost sets the host that the rendezvous server and the nodes' control channels bind to.
func (b *Builder) WithListenHost(host string) *Builder {
	b.o.listenHost = host
	return b
}

func (b *Builder) WithLaunch(launch LaunchFunc) *Builder {
	b.o.launch = launch
	return b
}

func (b *Builder) WithControlDialer(dialer ControlDialer) *Builder {
	b.o.dialer = dialer
	return b
}

func (b *Builder) WithDashboard(dashboard node.Dashboard) *Builder {
	b.o.dashboard = dashboard
	return b
}

// WithCapability overrides the capability check that every node reports.
func (b *Builder) WithCapability(capability func() bool) *Builder {
	b.o.capability = capability
	return b
}

func (b *Builder) WithIntervals(intervals Intervals) *Builder {
	b.o.intervals = intervals
	return b
}

func (b *Builder) Build() *Orchestrator {
	o := b.o
	config.InitLogger(&o.log, o)

	if o.provider == nil {
		o.provider = dfs.NewLocalProvider(os.TempDir(), "")
	}
	if o.sink == nil {
		o.sink = experiment.NewMemorySink()
	}
	if o.launch == nil {
		o.launch = o.launchNodes
	}
	if o.dialer == nil {
		o.dialer = ChannelDialer{}
	}
	if o.dashboard == nil {
		o.dashboard = &node.ProcessDashboard{}
	}
	if o.listenHost == "" {
		o.listenHost = "127.0.0.1"
	}
	o.intervals = o.intervals.withDefaults()

	return o
}
