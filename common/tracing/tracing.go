package tracing

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

const (
	// SampleRatioEnv overrides DefaultSampleRatio.
	SampleRatioEnv = "JAEGER_SAMPLE_RATIO"

	DefaultSampleRatio = 0.01
)

var (
	log logger.Logger

	ErrInvalidSampleRatio = errors.New("invalid jaeger sample ratio")
)

func init() {
	config.InitLogger(&log, "Tracing ")
}

// sampleRatio returns the configured probabilistic sampling ratio.
func sampleRatio() (float64, error) {
	val, ok := os.LookupEnv(SampleRatioEnv)
	if !ok || val == "" {
		return DefaultSampleRatio, nil
	}

	ratio, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidSampleRatio, "%s=%q", SampleRatioEnv, val)
	}

	if ratio > 1 {
		ratio = 1.0
	} else if ratio < 0 {
		ratio = 0
	}

	return ratio, nil
}

// Init returns a newly configured tracer that reports to the Jaeger agent at host.
// An empty host yields a no-op tracer.
func Init(serviceName, host string) (opentracing.Tracer, error) {
	if host == "" {
		log.Debug("No Jaeger agent address configured. Using a no-op tracer for \"%s\".", serviceName)
		return opentracing.NoopTracer{}, nil
	}

	ratio, err := sampleRatio()
	if err != nil {
		return nil, err
	}

	log.Info("Jaeger client: adjusted sample ratio for \"%s\" to %f", serviceName, ratio)
	tempCfg := &jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  "probabilistic",
			Param: ratio,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans:            false,
			BufferFlushInterval: 1 * time.Second,
			LocalAgentHostPort:  host,
		},
	}

	tracer, _, err := tempCfg.NewTracer()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create jaeger tracer")
	}

	return tracer, nil
}

// StartSpan starts a span named operationName as a child of any span already in ctx.
// A nil tracer falls back to opentracing.NoopTracer.
func StartSpan(ctx context.Context, tracer opentracing.Tracer, operationName string) (opentracing.Span, context.Context) {
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}

	return opentracing.StartSpanFromContextWithTracer(ctx, tracer, operationName)
}
