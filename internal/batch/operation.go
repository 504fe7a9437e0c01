// Package batch executes ordered sequences of record operations against a
// document. Operations run strictly sequentially because a later operation
// may reference a row created by an earlier one; a failure stops the batch
// and the result reports exactly what committed before the stop.
package batch

import (
	"fmt"
	"strings"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/schema"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/verify"
)

// State tracks an operation through its lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateEncoding   State = "encoding"
	StateValidating State = "validating"
	StateApplying   State = "applying"
	StateVerifying  State = "verifying"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// OnMany selects upsert behavior when the require keys match several
// existing rows.
type OnMany string

const (
	// OnManyFirst updates the matching row with the lowest id.
	OnManyFirst OnMany = "first"

	// OnManyError fails the operation.
	OnManyError OnMany = "error"

	// OnManyAll updates every matching row.
	OnManyAll OnMany = "all"
)

// UpsertOptions configures one upsert operation.
type UpsertOptions struct {
	// Require names the columns whose values identify an existing row.
	// Empty is rejected unless AllowEmptyRequire is set, because an empty
	// key set would match every row.
	Require []string

	// OnMany selects what happens when Require matches several rows.
	// Defaults to OnManyFirst.
	OnMany OnMany

	// NoInsert forbids inserting records whose Require keys match
	// nothing; such records are silently skipped.
	NoInsert bool

	// NoUpdate forbids updating matched rows; matched records are
	// silently skipped.
	NoUpdate bool

	// AllowEmptyRequire opts in to an empty Require set.
	AllowEmptyRequire bool
}

// Operation is one record operation in a batch.
type Operation struct {
	Kind    core.ActionKind   `json:"action"`
	TableID string            `json:"table"`
	Records []map[string]any  `json:"records,omitempty"` // add/update/upsert payloads, natural values
	RowIDs  []int64           `json:"rowIds,omitempty"`  // update targets (parallel to Records) or delete targets
	Upsert  *UpsertOptions    `json:"upsert,omitempty"`
}

// OperationResult reports the outcome of one operation.
type OperationResult struct {
	Index        int            `json:"index"`
	Kind         core.ActionKind `json:"action"`
	TableID      string         `json:"table"`
	State        State          `json:"state"`
	Success      bool           `json:"success"`
	RowIDs       []int64        `json:"rowIds,omitempty"`
	Count        int            `json:"count"`
	Verification *verify.Result `json:"verification,omitempty"`
	Err          error          `json:"-"`
	Error        string         `json:"error,omitempty"`
}

// Result reports the outcome of a whole batch.
type Result struct {
	BatchID     string            `json:"batchId"`
	Results     []OperationResult `json:"results"`
	Completed   int               `json:"operationsCompleted"`
	FailedIndex int               `json:"failedIndex"` // -1 when the batch succeeded
	Succeeded   bool              `json:"succeeded"`
	Err         error             `json:"-"`
	Error       string            `json:"error,omitempty"`
}

// RecordFailure collects the cell errors of one invalid record.
type RecordFailure struct {
	RecordIndex int
	Cells       []*schema.CellError
}

// ValidationError aggregates every invalid cell across a batch of records,
// so a caller can fix all problems in one round trip.
type ValidationError struct {
	Failures []RecordFailure
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, failure := range e.Failures {
		for _, cell := range failure.Cells {
			parts = append(parts, fmt.Sprintf("record %d: %s", failure.RecordIndex, cell.Error()))
		}
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}
