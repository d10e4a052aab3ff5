package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/configuration"
	"github.com/scusemua/cluster-orchestrator/common/dfs"
	"github.com/scusemua/cluster-orchestrator/common/experiment"
	"github.com/scusemua/cluster-orchestrator/common/types"
	"github.com/scusemua/cluster-orchestrator/driver/orchestrator"
	"github.com/scusemua/cluster-orchestrator/node"
)

const (
	DefaultNumNodes              = 2
	DefaultReservationTimeoutSec = 600
	DefaultProjectName           = "cluster-orchestrator"
	DefaultFeedQueue             = channel.QueueInput
	DefaultApplicationID         = "local-driver"
	DefaultExecutorsPerNode      = 1
)

// DriverOptions are the command-line and YAML options of the driver.
type DriverOptions struct {
	config.LoggerOptions        `yaml:",inline" json:"logger_options"`
	configuration.CommonOptions `yaml:",inline" json:"common_options"`
	experiment.SinkOptions      `yaml:",inline" json:"sink_options"`
	dfs.ProviderOptions         `yaml:",inline" json:"provider_options"`

	NumNodes               int    `name:"num-nodes" json:"num-nodes" yaml:"num-nodes" description:"Total number of nodes in the cluster, parameter servers included."`
	NumParameterServers    int    `name:"num-ps" json:"num-ps" yaml:"num-ps" description:"Number of parameter server nodes."`
	MasterNode             string `name:"master-node" json:"master-node" yaml:"master-node" description:"Role name of the single master node, if the cluster has one."`
	InputMode              string `name:"input-mode" json:"input-mode" yaml:"input-mode" description:"How workers receive data: tensorflow (the nodes read their own data) or feed (the driver pushes data)."`
	NumExecutors           int    `name:"num-executors" json:"num-executors" yaml:"num-executors" description:"Executors of the local execution engine. Defaults to num-nodes."`
	ApplicationID          string `name:"app-id" json:"app-id" yaml:"app-id" description:"Application id reported by the execution engine."`
	Tensorboard            bool   `name:"tensorboard" json:"tensorboard" yaml:"tensorboard" description:"Start a dashboard on the chief node."`
	LocalLogDir            bool   `name:"local-logdir" json:"local-logdir" yaml:"local-logdir" description:"Keep node logs in the node's working directory instead of the run log directory."`
	Queues                 string `name:"queues" json:"queues" yaml:"queues" description:"Comma-separated names of the queues created on every node."`
	ReservationTimeout     int    `name:"reservation-timeout-sec" json:"reservation-timeout-sec" yaml:"reservation-timeout-sec" description:"Seconds to wait for every node to register."`
	CapabilityTimeout      int    `name:"capability-timeout-sec" json:"capability-timeout-sec" yaml:"capability-timeout-sec" description:"Seconds to wait for every node to report its capabilities. Zero waits without bound."`
	FeedTimeout            int    `name:"feed-timeout-sec" json:"feed-timeout-sec" yaml:"feed-timeout-sec" description:"Seconds a worker may take to consume one fed partition."`
	NumEpochs              int    `name:"num-epochs" json:"num-epochs" yaml:"num-epochs" description:"Number of times the input file is fed in feed mode."`
	FeedPartitions         int    `name:"feed-partitions" json:"feed-partitions" yaml:"feed-partitions" description:"Partitions the input file is split into. Defaults to the number of nodes that are not parameter servers."`
	Name                   string `name:"name" json:"name" yaml:"name" description:"Name of the experiment record."`
	Description            string `name:"description" json:"description" yaml:"description" description:"Description of the experiment record."`
	VersionedResources     string `name:"versioned-resources" json:"versioned-resources" yaml:"versioned-resources" description:"Comma-separated resources whose versions are attached to the experiment record."`
	Command                string `name:"command" json:"command" yaml:"command" description:"Executable run by every node."`
	CommandArgs            string `name:"args" json:"args" yaml:"args" description:"Space-separated arguments passed to the command."`
	InputFile              string `name:"input-file" json:"input-file" yaml:"input-file" description:"File whose lines are fed to the workers in feed mode. Each line must be a JSON value."`
	DriverParameterServers bool   `name:"driver-ps-nodes" json:"driver-ps-nodes" yaml:"driver-ps-nodes" description:"Run parameter servers on the driver. Not supported."`
}

func (o *DriverOptions) Validate() error {
	if o.NumNodes <= 0 {
		fmt.Printf("[WARNING] \"num-nodes\" is not set. Using default value: %d.\n", DefaultNumNodes)
		o.NumNodes = DefaultNumNodes
	}

	if o.NumParameterServers < 0 {
		return errors.Wrapf(types.ErrInvalidRoleCounts, "num-ps=%d", o.NumParameterServers)
	}

	if _, err := types.ParseInputMode(o.InputMode); err != nil {
		return errors.Wrap(types.ErrPrecondition, err.Error())
	}

	if o.NumExecutors <= 0 {
		o.NumExecutors = o.NumNodes * DefaultExecutorsPerNode
	}

	if o.ApplicationID == "" {
		o.ApplicationID = DefaultApplicationID
	}

	if o.ProjectName == "" {
		o.ProjectName = DefaultProjectName
	}

	if o.ReservationTimeout <= 0 {
		o.ReservationTimeout = DefaultReservationTimeoutSec
	}

	if o.CapabilityTimeout < 0 || o.FeedTimeout < 0 {
		return errors.Wrap(types.ErrPrecondition, "timeouts cannot be negative")
	}

	if o.NumEpochs < 0 {
		return errors.Wrapf(types.ErrInvalidEpochs, "num-epochs=%d", o.NumEpochs)
	} else if o.NumEpochs == 0 {
		o.NumEpochs = orchestrator.DefaultNumEpochs
	}

	return nil
}

// QueueList returns the configured queues, or the default queues if none were given.
func (o *DriverOptions) QueueList() []string {
	queues := splitList(o.Queues)
	if len(queues) == 0 {
		return append([]string(nil), orchestrator.DefaultQueues...)
	}

	return queues
}

// FeedQueue is the queue that fed items are written to.
func (o *DriverOptions) FeedQueue() string {
	queues := o.QueueList()
	for _, q := range queues {
		if q == DefaultFeedQueue {
			return q
		}
	}

	return queues[0]
}

// ParsedInputMode returns the input mode. Validate has already rejected unknown modes.
func (o *DriverOptions) ParsedInputMode() types.InputMode {
	mode, _ := types.ParseInputMode(o.InputMode)
	return mode
}

// RunOptions builds the options of a run whose nodes execute main.
func (o *DriverOptions) RunOptions(main node.MainFunc) *orchestrator.RunOptions {
	return &orchestrator.RunOptions{
		Main:                   main,
		NumNodes:               o.NumNodes,
		NumParameterServers:    o.NumParameterServers,
		MasterNode:             o.MasterNode,
		InputMode:              o.ParsedInputMode(),
		Tensorboard:            o.Tensorboard,
		LocalLogDir:            o.LocalLogDir,
		Queues:                 o.QueueList(),
		ReservationTimeout:     time.Duration(o.ReservationTimeout) * time.Second,
		CapabilityTimeout:      time.Duration(o.CapabilityTimeout) * time.Second,
		FeedTimeout:            time.Duration(o.FeedTimeout) * time.Second,
		Name:                   o.Name,
		Description:            o.Description,
		VersionedResources:     splitList(o.VersionedResources),
		DriverParameterServers: o.DriverParameterServers,
	}
}

// NodeMain returns the main function run by every node: the configured command, with fed items
// piped to its stdin in feed mode.
func (o *DriverOptions) NodeMain() (node.MainFunc, error) {
	if o.Command == "" {
		return nil, errors.Wrap(types.ErrPrecondition, "\"command\" is required")
	}

	feedQueue := ""
	if o.ParsedInputMode() == types.InputModeDataParallelFeed {
		feedQueue = o.FeedQueue()
	}

	return node.CommandMain(o.Command, strings.Fields(o.CommandArgs), feedQueue), nil
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *DriverOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(o, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *DriverOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
