package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/scusemua/cluster-orchestrator/common/planner"
)

func newPlanCommand() *cobra.Command {
	var (
		numNodes   int
		numPS      int
		masterNode string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the role of every node of a cluster without launching it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPlan(cmd.OutOrStdout(), numNodes, numPS, masterNode)
		},
	}

	cmd.Flags().IntVarP(&numNodes, "num-nodes", "n", 2, "total number of nodes")
	cmd.Flags().IntVar(&numPS, "num-ps", 0, "number of parameter servers")
	cmd.Flags().StringVar(&masterNode, "master-node", "", "role name of the master node")
	return cmd
}

func printPlan(w io.Writer, numNodes int, numPS int, masterNode string) error {
	plan, err := planner.Plan(numNodes, numPS, masterNode)
	if err != nil {
		return err
	}

	template, err := json.Marshal(plan.Template())
	if err != nil {
		return err
	}

	for i := 0; i < plan.TotalNodes(); i++ {
		role, taskIndex, _ := plan.RoleOf(i)
		if _, err = fmt.Fprintf(w, "node %d: %s:%d\n", i, role, taskIndex); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "template: %s\n", template)
	return err
}
