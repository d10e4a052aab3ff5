// Package node contains the partition functions that run on the execution engine's executors:
// the bootstrap that starts a cluster node and registers it with the driver, and the feed,
// inference, and shutdown functions that drive a running node through its control channel.
package node

import (
	"context"
	"fmt"
	"sort"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/common/types"
)

// MainFunc is the user computation run by every node once the cluster registry is complete.
type MainFunc func(ctx *Context) error

// Context describes the node that a MainFunc runs on.
type Context struct {
	context.Context

	Meta *types.RunMetadata

	NodeIndex int
	JobName   string
	TaskIndex int

	// ClusterSpec maps each role to the "host:port" addresses of its nodes, ordered by task index.
	ClusterSpec map[string][]string

	Args []string

	DefaultFS  string
	WorkingDir string
	LogDir     string

	Host       string
	ExecutorID string

	// Port was reserved for the node's own server.
	Port int

	Manager *channel.Manager
}

func (c *Context) String() string {
	return fmt.Sprintf("Node[%s:%d (index %d) on executor %s@%s]", c.JobName, c.TaskIndex, c.NodeIndex, c.ExecutorID, c.Host)
}

// IsChief returns true for the node that coordinates the workers: the master node if the
// cluster has one, and the first worker otherwise.
func (c *Context) IsChief() bool {
	withMaster := false
	for job := range c.ClusterSpec {
		if job != types.RoleWorker && job != types.RoleParameterServer {
			withMaster = true
		}
	}

	return isChief(c.JobName, c.TaskIndex, withMaster)
}

// DataFeed returns a DataFeed reading from qnameIn and writing results to qnameOut.
func (c *Context) DataFeed(trainMode bool, qnameIn string, qnameOut string) (*DataFeed, error) {
	return NewDataFeed(c.Manager, trainMode, qnameIn, qnameOut)
}

// buildClusterSpec groups the registry by role, ordering each role's addresses by task index.
func buildClusterSpec(registry []types.NodeRecord) map[string][]string {
	byJob := make(map[string][]types.NodeRecord)
	for _, record := range registry {
		byJob[record.JobName] = append(byJob[record.JobName], record)
	}

	spec := make(map[string][]string, len(byJob))
	for job, records := range byJob {
		sort.Slice(records, func(i, j int) bool { return records[i].TaskIndex < records[j].TaskIndex })

		addrs := make([]string, 0, len(records))
		for _, record := range records {
			addrs = append(addrs, record.ServerAddress())
		}
		spec[job] = addrs
	}

	return spec
}
