package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// RoleParameterServer is the role of nodes that run indefinitely and must be told to stop.
	RoleParameterServer = "ps"
	// RoleWorker is the role of nodes that perform bounded work and stop on their own.
	RoleWorker = "worker"
)

// InputMode indicates who is responsible for delivering application data to the worker nodes.
type InputMode int

const (
	// InputModeTensorFlow means the user's main function reads its own data. There is no feeding job.
	InputModeTensorFlow InputMode = iota
	// InputModeDataParallelFeed means the driver pushes data into the workers' named queues.
	InputModeDataParallelFeed
)

func (m InputMode) String() string {
	switch m {
	case InputModeTensorFlow:
		return "TENSORFLOW"
	case InputModeDataParallelFeed:
		return "DATA_PARALLEL_FEED"
	default:
		return fmt.Sprintf("InputMode(%d)", int(m))
	}
}

// ParseInputMode converts the textual form used on the command line into an InputMode.
func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TENSORFLOW", "ENGINE":
		return InputModeTensorFlow, nil
	case "DATA_PARALLEL_FEED", "FEED", "SPARK":
		return InputModeDataParallelFeed, nil
	default:
		return InputModeTensorFlow, fmt.Errorf("unknown input mode \"%s\"", s)
	}
}

// Outcome is the status stored in an experiment record.
type Outcome string

const (
	OutcomeRunning  Outcome = "RUNNING"
	OutcomeFinished Outcome = "FINISHED"
	OutcomeFailed   Outcome = "FAILED"
	OutcomeKilled   Outcome = "KILLED"
)

// IsTerminal returns true for FINISHED, FAILED, and KILLED.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeFinished || o == OutcomeFailed || o == OutcomeKilled
}

func (o Outcome) String() string {
	return string(o)
}

// Address is a TCP endpoint of a node-side service.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// ParseAddress parses a "host:port" string.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in address \"%s\": %w", s, err)
	}

	return Address{Host: host, Port: port}, nil
}

// Endpoint returns the address in the form expected by zmq sockets.
func (a Address) Endpoint() string {
	return fmt.Sprintf("tcp://%s:%d", a.Host, a.Port)
}

// NodeID is the identity under which a node's control channel is addressed.
// It must be unique across a ClusterRegistry.
type NodeID struct {
	Host       string
	ExecutorID string
}

func (id NodeID) String() string {
	return fmt.Sprintf("(host=%s, executor_id=%s)", id.Host, id.ExecutorID)
}

// NodeRecord is what a node submits to the rendezvous coordinator during registration.
type NodeRecord struct {
	NodeIndex  int    `json:"node_index"`
	Host       string `json:"host"`
	ExecutorID string `json:"executor_id"`
	JobName    string `json:"job_name"`
	TaskIndex  int    `json:"task_index"`

	// Port is reserved on the node for the user's main process (e.g., a parameter server listener).
	Port int `json:"port"`

	// Address and AuthKey locate the node's control channel.
	Address Address `json:"addr"`
	AuthKey string  `json:"authkey"`

	DashboardPort int `json:"tb_port"`
	DashboardPID  int `json:"tb_pid"`
}

// ID returns the (host, executor id) pair of the record.
func (r NodeRecord) ID() NodeID {
	return NodeID{Host: r.Host, ExecutorID: r.ExecutorID}
}

// ServerAddress returns the "host:port" string the node's main process listens on.
func (r NodeRecord) ServerAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (r NodeRecord) String() string {
	return fmt.Sprintf("NodeRecord[index=%d, %s:%d, host=%s, executor=%s, channel=%s, dashboard=%d]",
		r.NodeIndex, r.JobName, r.TaskIndex, r.Host, r.ExecutorID, r.Address, r.DashboardPort)
}

// RunMetadata describes one run of the cluster. It is created when the orchestrator
// starts a run and is never modified afterward.
type RunMetadata struct {
	ClusterID     string           `json:"id"`
	RunID         int              `json:"run_id"`
	ExperimentID  int              `json:"experiment_id"`
	ApplicationID string           `json:"app_id"`
	StartTime     time.Time        `json:"start_time"`
	WorkingDir    string           `json:"working_dir"`
	DefaultFS     string           `json:"default_fs"`
	ServerAddress string           `json:"server_addr"`
	LogDir        string           `json:"log_dir"`
	NumNodes      int              `json:"num_executors"`
	Template      map[string][]int `json:"cluster_template"`
}

// RunLabel is the key under which the run's experiment record is stored.
func (m *RunMetadata) RunLabel() string {
	return fmt.Sprintf("dist%d", m.ExperimentID)
}

// RoleOf returns the role name and task index assigned to the given node index.
func (m *RunMetadata) RoleOf(nodeIndex int) (string, int, bool) {
	for job, indices := range m.Template {
		for i, idx := range indices {
			if idx == nodeIndex {
				return job, i, true
			}
		}
	}

	return "", -1, false
}
