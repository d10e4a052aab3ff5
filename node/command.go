package node

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/channel"
)

// Environment variables set for a node's command.
const (
	EnvClusterSpec = "CLUSTER_SPEC"
	EnvJobName     = "JOB_NAME"
	EnvTaskIndex   = "TASK_INDEX"
	EnvNodeIndex   = "NODE_INDEX"
	EnvNodePort    = "NODE_PORT"
	EnvLogDir      = "LOG_DIR"
	EnvDefaultFS   = "DEFAULT_FS"
)

// DefaultCommandBatchSize is the number of fed items read per batch before they are flushed to the command.
const DefaultCommandBatchSize = 64

// Command runs an external process as the main function of every node. The process learns its role
// from the environment.
type Command struct {
	Name string
	Args []string

	// FeedQueue, when set, is read in train mode and every fed item is written to the process's
	// stdin as one line of JSON. Stdin is closed once the driver stops the node.
	FeedQueue string
	BatchSize int

	Stdout io.Writer
	Stderr io.Writer
}

// CommandMain returns a MainFunc running name with args, piping feedQueue to its stdin if non-empty.
func CommandMain(name string, args []string, feedQueue string) MainFunc {
	cmd := &Command{Name: name, Args: args, FeedQueue: feedQueue}
	return cmd.Main
}

// Env returns the variables describing ctx's node.
func (c *Command) Env(ctx *Context) ([]string, error) {
	spec, err := json.Marshal(ctx.ClusterSpec)
	if err != nil {
		return nil, errors.Wrap(err, "encoding cluster spec")
	}

	return []string{
		EnvClusterSpec + "=" + string(spec),
		EnvJobName + "=" + ctx.JobName,
		EnvTaskIndex + "=" + strconv.Itoa(ctx.TaskIndex),
		EnvNodeIndex + "=" + strconv.Itoa(ctx.NodeIndex),
		EnvNodePort + "=" + strconv.Itoa(ctx.Port),
		EnvLogDir + "=" + ctx.LogDir,
		EnvDefaultFS + "=" + ctx.DefaultFS,
	}, nil
}

// Main runs the command to completion. The node's own Args follow the command's.
func (c *Command) Main(ctx *Context) error {
	env, err := c.Env(ctx)
	if err != nil {
		return err
	}

	args := append(append([]string(nil), c.Args...), ctx.Args...)
	cmd := exec.CommandContext(ctx, c.Name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = ctx.WorkingDir
	cmd.Stdout = writerOr(c.Stdout, os.Stdout)
	cmd.Stderr = writerOr(c.Stderr, os.Stderr)

	if c.FeedQueue == "" {
		return errors.Wrapf(cmd.Run(), "running %s", c.Name)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err = cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting %s", c.Name)
	}

	feedErr := c.pipeFeed(ctx, stdin)
	_ = stdin.Close()

	waitErr := cmd.Wait()
	if feedErr != nil {
		return feedErr
	}

	return errors.Wrapf(waitErr, "running %s", c.Name)
}

func (c *Command) pipeFeed(ctx *Context, w io.Writer) error {
	feed, err := ctx.DataFeed(true, c.FeedQueue, channel.QueueOutput)
	if err != nil {
		return err
	}

	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultCommandBatchSize
	}

	bw := bufio.NewWriter(w)
	for !feed.ShouldStop() {
		batch, err := feed.NextBatch(ctx, batchSize)
		if err != nil {
			return err
		}

		for _, item := range batch {
			_, _ = bw.Write(item.Data)
			_ = bw.WriteByte('\n')
		}

		// A process that exits early closes the pipe.
		if err = bw.Flush(); err != nil {
			return errors.Wrap(err, "writing fed items")
		}
	}

	return nil
}

func writerOr(w io.Writer, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}
