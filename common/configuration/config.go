package configuration

import (
	"strings"

	"github.com/goccy/go-json"
)

// CommonOptions includes the configuration parameters shared by every driver component, independent of
// the cluster shape or the input mode of a particular run.
type CommonOptions struct {
	JaegerAddr     string `name:"jaeger-addr"     json:"jaeger-addr"     yaml:"jaeger-addr"     description:"Address of the Jaeger agent. Tracing is disabled if empty."`
	ConsulAddr     string `name:"consul-addr"     json:"consul-addr"     yaml:"consul-addr"     description:"Address of the Consul agent. The rendezvous listener is only published if this is set."`
	ListenHost     string `name:"listen-host"     json:"listen-host"     yaml:"listen-host"     description:"Host the rendezvous and control-channel listeners bind to."`
	ProjectName    string `name:"project"         json:"project"         yaml:"project"         description:"Project that experiment records and log directories belong to."`
	PrometheusPort int    `name:"prometheus_port" json:"prometheus_port" yaml:"prometheus_port" description:"The port on which the driver will serve Prometheus metrics. Metrics are not served if this is not positive."`

	// PrettyPrintOptions, when true, instructs the driver to pretty-print its options when the program first begins running.
	PrettyPrintOptions bool `name:"pretty_print_options" json:"pretty_print_options" yaml:"pretty_print_options"`
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (opts *CommonOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(opts, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

// BindHost returns ListenHost, or 127.0.0.1 if it is unset.
func (opts *CommonOptions) BindHost() string {
	if opts.ListenHost == "" {
		return "127.0.0.1"
	}

	return opts.ListenHost
}

func (opts *CommonOptions) String() string {
	m, err := json.Marshal(opts)
	if err != nil {
		panic(err)
	}

	return string(m)
}
