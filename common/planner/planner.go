// Package planner builds the role assignment of a cluster run.
package planner

import (
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

// ClusterPlan maps role names to the node indices that assume them.
//
// The role ranges partition [0, TotalNodes) with no overlap and no gap. A ClusterPlan is
// built once per run and is never modified afterward; accessors return copies.
type ClusterPlan struct {
	roleRanges *orderedmap.OrderedMap[string, []int]

	totalNodes      int
	reservedCount   int
	masterName      string
	masterNodeIndex int
}

// Plan assigns roles to totalNodes nodes, reserving the first reservedCount indices
// for the parameter-server role.
//
// If masterName is empty, the remaining indices are workers. Otherwise, index reservedCount
// alone is assigned the role masterName and any indices after it are workers.
//
// Plan returns types.ErrInvalidRoleCounts if reservedCount is negative or not strictly less
// than totalNodes.
func Plan(totalNodes int, reservedCount int, masterName string) (*ClusterPlan, error) {
	if reservedCount < 0 || reservedCount >= totalNodes {
		return nil, errors.Wrapf(types.ErrInvalidRoleCounts, "total=%d, reserved=%d", totalNodes, reservedCount)
	}

	masterName = strings.TrimSpace(masterName)
	if masterName == types.RoleParameterServer || masterName == types.RoleWorker {
		return nil, errors.Wrapf(types.ErrUnsupportedOption, "master role cannot be named \"%s\"", masterName)
	}

	plan := &ClusterPlan{
		roleRanges:      orderedmap.NewOrderedMap[string, []int](),
		totalNodes:      totalNodes,
		reservedCount:   reservedCount,
		masterName:      masterName,
		masterNodeIndex: -1,
	}

	if reservedCount > 0 {
		plan.roleRanges.Set(types.RoleParameterServer, indexRange(0, reservedCount))
	}

	workersFrom := reservedCount
	if masterName != "" {
		plan.roleRanges.Set(masterName, indexRange(reservedCount, reservedCount+1))
		plan.masterNodeIndex = reservedCount
		workersFrom = reservedCount + 1
	}

	if totalNodes > workersFrom {
		plan.roleRanges.Set(types.RoleWorker, indexRange(workersFrom, totalNodes))
	}

	return plan, nil
}

func indexRange(from int, to int) []int {
	indices := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		indices = append(indices, i)
	}
	return indices
}

// TotalNodes returns the number of nodes in the plan.
func (p *ClusterPlan) TotalNodes() int {
	return p.totalNodes
}

// ReservedCount returns the number of parameter-server nodes.
func (p *ClusterPlan) ReservedCount() int {
	return p.reservedCount
}

// MasterNodeIndex returns the index of the named master node, if the plan has one.
func (p *ClusterPlan) MasterNodeIndex() (int, bool) {
	return p.masterNodeIndex, p.masterNodeIndex >= 0
}

// MasterName returns the role name of the master node, or the empty string.
func (p *ClusterPlan) MasterName() string {
	return p.masterName
}

// Roles returns the role names in assignment order.
func (p *ClusterPlan) Roles() []string {
	return p.roleRanges.Keys()
}

// Indices returns the node indices assigned to role, or nil if the role is absent.
func (p *ClusterPlan) Indices(role string) []int {
	indices, ok := p.roleRanges.Get(role)
	if !ok {
		return nil
	}

	out := make([]int, len(indices))
	copy(out, indices)
	return out
}

// NumNodesWithRole returns how many nodes are assigned to role.
func (p *ClusterPlan) NumNodesWithRole(role string) int {
	indices, ok := p.roleRanges.Get(role)
	if !ok {
		return 0
	}
	return len(indices)
}

// RoleOf returns the role and task index of the node with the given index.
func (p *ClusterPlan) RoleOf(nodeIndex int) (role string, taskIndex int, ok bool) {
	for el := p.roleRanges.Front(); el != nil; el = el.Next() {
		for i, idx := range el.Value {
			if idx == nodeIndex {
				return el.Key, i, true
			}
		}
	}

	return "", -1, false
}

// Template returns the plan as a plain map, which is what gets shipped to the nodes.
func (p *ClusterPlan) Template() map[string][]int {
	template := make(map[string][]int, p.roleRanges.Len())
	for el := p.roleRanges.Front(); el != nil; el = el.Next() {
		template[el.Key] = p.Indices(el.Key)
	}
	return template
}

func (p *ClusterPlan) String() string {
	var sb strings.Builder
	sb.WriteString("ClusterPlan{")
	for el := p.roleRanges.Front(); el != nil; el = el.Next() {
		if el != p.roleRanges.Front() {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%s: %v", el.Key, el.Value))
	}
	sb.WriteString("}")
	return sb.String()
}
