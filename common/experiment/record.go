// Package experiment records the metadata and the terminal status of every cluster run in an
// external audit sink.
package experiment

import (
	"fmt"
	"time"

	"github.com/scusemua/cluster-orchestrator/common/types"
)

// Key identifies an experiment document in a Sink.
type Key struct {
	Project       string `json:"project"`
	ApplicationID string `json:"app_id"`
	RunLabel      string `json:"run_label"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Project, k.ApplicationID, k.RunLabel)
}

// Record is the document written to the audit sink.
type Record struct {
	Project            string        `json:"project"`
	Name               string        `json:"name"`
	Module             string        `json:"module"`
	Function           string        `json:"function"`
	ApplicationID      string        `json:"app_id"`
	RunID              int           `json:"run_id"`
	LogDir             string        `json:"logdir"`
	VersionedResources []string      `json:"versioned_resources,omitempty"`
	Description        string        `json:"description,omitempty"`
	Status             types.Outcome `json:"status"`
	Error              string        `json:"error,omitempty"`
	StartTime          time.Time     `json:"start"`
	FinishedTime       *time.Time    `json:"finished,omitempty"`
	Duration           time.Duration `json:"duration,omitempty"`
}

func (r *Record) String() string {
	return fmt.Sprintf("Experiment[%s/%s, app=%s, run=%d, status=%s]", r.Project, r.Name, r.ApplicationID, r.RunID, r.Status)
}
