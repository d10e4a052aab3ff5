package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"strings"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/scusemua/cluster-orchestrator/common/consul"
	"github.com/scusemua/cluster-orchestrator/common/dfs"
	"github.com/scusemua/cluster-orchestrator/common/engine"
	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/metrics"
	"github.com/scusemua/cluster-orchestrator/common/planner"
	"github.com/scusemua/cluster-orchestrator/common/tracing"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/driver/domain"
	"github.com/scusemua/cluster-orchestrator/driver/orchestrator"
	"github.com/scusemua/cluster-orchestrator/node"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [flags]",
		Short: "Launch a cluster, feed it, and shut it down",
		// The options package parses the flags, including --yaml.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := &domain.DriverOptions{}
			flags, err := config.ValidateOptionsWithFlags(options, args...)
			if errors.Is(err, config.ErrPrintUsage) {
				flags.SetOutput(cmd.OutOrStdout())
				flags.PrintDefaults()
				return nil
			} else if err != nil {
				return err
			}

			if options.PrettyPrintOptions {
				globalLogger.Info("Starting the driver with the following options:\n%s\n", options.PrettyString(2))
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			return runDriver(ctx, options)
		},
	}
}

// CreateConsulAndTracer connects to Jaeger and Consul if both addresses are configured.
func CreateConsulAndTracer(options *domain.DriverOptions) (opentracing.Tracer, *consul.Client) {
	var (
		tracer       opentracing.Tracer
		consulClient *consul.Client
		err          error
	)

	if options.JaegerAddr != "" && options.ConsulAddr != "" {
		globalLogger.Info("Initializing jaeger agent [service name: %v | host: %v]...", ServiceName, options.JaegerAddr)

		tracer, err = tracing.Init(ServiceName, options.JaegerAddr)
		if err != nil {
			log.Fatalf("Got error while initializing jaeger agent: %v", err)
		}
		globalLogger.Info("Jaeger agent initialized")

		globalLogger.Info("Initializing consul agent [host: %v]...", options.ConsulAddr)
		consulClient, err = consul.NewClient(options.ConsulAddr)
		if err != nil {
			log.Fatalf("Got error while initializing consul agent: %v", err)
		}
		globalLogger.Info("Consul agent initialized")
	}

	return tracer, consulClient
}

func runDriver(ctx context.Context, options *domain.DriverOptions) error {
	nodeMain, err := options.NodeMain()
	if err != nil {
		return err
	}

	tracer, consulClient := CreateConsulAndTracer(options)

	sink, err := experiment.NewSink(ctx, &options.SinkOptions)
	if err != nil {
		return errors.Wrap(err, "creating the audit sink")
	}
	defer func() { _ = sink.Close() }()

	provider, err := dfs.NewProvider(&options.ProviderOptions, options.ProjectName)
	if err != nil {
		return errors.Wrap(err, "creating the filesystem provider")
	}
	defer func() { _ = provider.Close() }()

	eng := engine.NewLocalEngine(options.ApplicationID, provider.DefaultFS(), options.BindHost(), options.NumExecutors)
	defer eng.Stop()
	defer node.ReleaseExecutors()

	builder := orchestrator.NewBuilder(eng).
		WithProvider(provider).
		WithSink(sink).
		WithTracer(tracer).
		WithListenHost(options.BindHost())
	if consulClient != nil {
		builder = builder.WithRegistrar(consulClient)
	}
	orch := builder.Build()

	if options.PrometheusPort > 0 {
		manager := metrics.NewDriverPrometheusManager(options.PrometheusPort, orch, tracer)
		if err = manager.Start(); err != nil {
			return errors.Wrap(err, "starting the prometheus manager")
		}
		defer func() { _ = manager.Stop() }()
		orch.SetMetricsManager(manager)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			globalLogger.Info("Interrupted. Recording the run as killed.")
			orch.ExitHandler()
			os.Exit(1)
		case <-done:
		}
	}()

	cluster, err := orch.Run(ctx, options.RunOptions(nodeMain))
	if err != nil {
		return err
	}

	if url, ok := cluster.TensorboardURL(); ok {
		globalLogger.Info("Dashboard available at %s", url)
	}

	var feedErr error
	if cluster.InputMode() == types.InputModeDataParallelFeed && options.InputFile != "" {
		feedErr = feedInputFile(ctx, cluster, options)
		if feedErr != nil {
			globalLogger.Error("Failed to feed %s: %v", options.InputFile, feedErr)
		}
	}

	if err = cluster.Shutdown(ctx, nil); err != nil {
		return err
	}

	return feedErr
}

func feedInputFile(ctx context.Context, cluster *orchestrator.Cluster, options *domain.DriverOptions) error {
	items, err := readInputFile(options.InputFile)
	if err != nil {
		return err
	}

	partitions, err := feedPartitions(options)
	if err != nil {
		return err
	}

	return cluster.Feed(ctx, engine.Parallelize(items, partitions), options.FeedQueue(), options.NumEpochs)
}

// feedPartitions returns the configured partition count, or one partition per node that reads the
// feed queue. Every node except the parameter servers does, the master included.
func feedPartitions(options *domain.DriverOptions) (int, error) {
	if options.FeedPartitions > 0 {
		return options.FeedPartitions, nil
	}

	plan, err := planner.Plan(options.NumNodes, options.NumParameterServers, options.MasterNode)
	if err != nil {
		return 0, err
	}

	return max(plan.TotalNodes()-plan.NumNodesWithRole(types.RoleParameterServer), 1), nil
}

// readInputFile decodes every non-blank line of path as one JSON value.
func readInputFile(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var items []any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item any
		if err = json.Unmarshal([]byte(line), &item); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, lineNo)
		}
		items = append(items, item)
	}

	return items, scanner.Err()
}
