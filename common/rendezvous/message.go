package rendezvous

import (
	"fmt"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

// MessageType identifies a request sent to the rendezvous server.
type MessageType string

const (
	// MessageCapability reports whether a node has an accelerator.
	MessageCapability MessageType = "CAPABILITY"
	// MessageRegister submits a node's NodeRecord.
	MessageRegister MessageType = "REG"
	// MessageQuery asks whether every expected node has registered.
	MessageQuery MessageType = "QUERY"
	// MessageQueryInfo asks for the registered NodeRecords.
	MessageQueryInfo MessageType = "QINFO"
	// MessageStop asks the driver to shut the cluster down.
	MessageStop MessageType = "STOP"
)

// CapabilityReport is one node's answer to the capability check.
type CapabilityReport struct {
	NodeIndex   int    `json:"node_index"`
	Host        string `json:"host"`
	Accelerator bool   `json:"accelerator"`
}

func (r CapabilityReport) String() string {
	return fmt.Sprintf("CapabilityReport[index=%d, host=%s, accelerator=%v]", r.NodeIndex, r.Host, r.Accelerator)
}

type message struct {
	Type       MessageType       `json:"type"`
	Capability *CapabilityReport `json:"capability,omitempty"`
	Record     *types.NodeRecord `json:"record,omitempty"`
}

type reply struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error,omitempty"`
	Complete bool               `json:"complete,omitempty"`
	Records  []types.NodeRecord `json:"records,omitempty"`
}
