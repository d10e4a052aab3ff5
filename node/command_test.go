package node_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/cluster-orchestrator/common/channel"
	"github.com/scusemua/cluster-orchestrator/node"
)

var _ = Describe("Command", func() {
	var nodeCtx *node.Context

	BeforeEach(func() {
		nodeCtx = &node.Context{
			Context:     context.Background(),
			NodeIndex:   2,
			JobName:     "worker",
			TaskIndex:   1,
			ClusterSpec: map[string][]string{"worker": {"10.0.0.1:7000", "10.0.0.2:7000"}},
			LogDir:      "/logs/run",
			DefaultFS:   "file://",
			Port:        7000,
			WorkingDir:  GinkgoT().TempDir(),
		}
	})

	It("should describe the node in its environment", func() {
		env, err := (&node.Command{Name: "true"}).Env(nodeCtx)
		Expect(err).To(BeNil())
		Expect(env).To(ContainElements(
			"CLUSTER_SPEC={\"worker\":[\"10.0.0.1:7000\",\"10.0.0.2:7000\"]}",
			"JOB_NAME=worker",
			"TASK_INDEX=1",
			"NODE_INDEX=2",
			"NODE_PORT=7000",
			"LOG_DIR=/logs/run",
			"DEFAULT_FS=file://",
		))
	})

	It("should run the command with the node's role", func() {
		var stdout bytes.Buffer
		cmd := &node.Command{Name: "sh", Args: []string{"-c", "echo $JOB_NAME:$TASK_INDEX"}, Stdout: &stdout}

		Expect(cmd.Main(nodeCtx)).To(Succeed())
		Expect(stdout.String()).To(Equal("worker:1\n"))
	})

	It("should return an error when the command fails", func() {
		cmd := &node.Command{Name: "sh", Args: []string{"-c", "exit 3"}}
		Expect(cmd.Main(nodeCtx)).ToNot(Succeed())
	})

	It("should pipe fed items to the command's stdin", func() {
		mgr := channel.NewManager("secret", []string{channel.QueueInput, channel.QueueOutput})
		nodeCtx.Manager = mgr

		input, ok := mgr.Queue(channel.QueueInput)
		Expect(ok).To(BeTrue())
		for _, v := range []any{1, "two", map[string]int{"three": 3}} {
			Expect(input.Put(channel.MustItem(v))).To(Succeed())
		}
		Expect(input.Put(channel.StopItem())).To(Succeed())

		var stdout bytes.Buffer
		cmd := &node.Command{Name: "cat", FeedQueue: channel.QueueInput, BatchSize: 2, Stdout: &stdout}

		Expect(cmd.Main(nodeCtx)).To(Succeed())
		Expect(stdout.String()).To(Equal("1\n\"two\"\n{\"three\":3}\n"))
		Expect(input.Unfinished()).To(Equal(0))
	})

	It("should fail when the feed queue does not exist", func() {
		nodeCtx.Manager = channel.NewManager("secret", nil)
		cmd := &node.Command{Name: "cat", FeedQueue: "missing"}
		Expect(cmd.Main(nodeCtx)).ToNot(Succeed())
	})
})
