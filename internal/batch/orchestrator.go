package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/actions"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/cache"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/codec"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/integrity"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/schema"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/verify"
)

// Orchestrator executes batches of record operations. Each operation walks
// an explicit state machine: pending, encoding, validating, applying,
// verifying, then succeeded or failed. Encoding runs before validation so
// the validator always sees wire forms; an untagged array surviving to
// validation then reliably signals a skipped encode.
//
// A failed operation stops the batch immediately. Earlier operations stay
// committed, the backend is not transactional across operations, and the
// result reports the failing index so a caller can resume from it.
type Orchestrator struct {
	backend  core.Backend
	cache    *cache.SchemaCache
	valid    *schema.Validator
	checker  *integrity.Checker
	journal  core.Journal
	doVerify bool
}

// Options configures an Orchestrator.
type Options struct {
	// Checker cross-references values against live state. nil skips
	// integrity checking.
	Checker *integrity.Checker

	// Journal receives one mutation event per applied operation. nil
	// disables journaling.
	Journal core.Journal

	// Verify enables post-write read-back verification of every add and
	// update operation.
	Verify bool
}

// NewOrchestrator creates an orchestrator over the given backend and schema
// cache.
func NewOrchestrator(backend core.Backend, schemaCache *cache.SchemaCache, opts Options) *Orchestrator {
	return &Orchestrator{
		backend:  backend,
		cache:    schemaCache,
		valid:    schema.NewValidator(),
		checker:  opts.Checker,
		journal:  opts.Journal,
		doVerify: opts.Verify,
	}
}

// Execute runs the operations strictly in order and returns the per
// operation results. On the first failure the remaining operations are
// marked skipped and never attempted.
func (o *Orchestrator) Execute(ctx context.Context, docID string, ops []Operation) *Result {
	result := &Result{
		BatchID:     uuid.NewString(),
		Results:     make([]OperationResult, len(ops)),
		FailedIndex: -1,
	}

	log.Printf("[BATCH] Executing batch %s: %d operation(s) on document %s", result.BatchID, len(ops), docID)

	for i, op := range ops {
		result.Results[i] = OperationResult{
			Index:   i,
			Kind:    op.Kind,
			TableID: op.TableID,
			State:   StatePending,
		}
	}

	for i, op := range ops {
		opResult := o.execute(ctx, docID, result.BatchID, op)
		opResult.Index = i
		result.Results[i] = opResult

		if opResult.Err != nil {
			result.FailedIndex = i
			result.Err = fmt.Errorf("operation %d (%s on %q) failed: %w", i, op.Kind, op.TableID, opResult.Err)
			result.Error = result.Err.Error()
			for j := i + 1; j < len(ops); j++ {
				result.Results[j].State = StateSkipped
			}
			log.Printf("[BATCH] Batch %s stopped at operation %d: %v", result.BatchID, i, opResult.Err)
			return result
		}
		result.Completed++
	}

	result.Succeeded = true
	log.Printf("[BATCH] Batch %s completed: %d operation(s)", result.BatchID, result.Completed)
	return result
}

// execute runs one operation through its state machine.
func (o *Orchestrator) execute(ctx context.Context, docID, batchID string, op Operation) OperationResult {
	result := OperationResult{
		Kind:    op.Kind,
		TableID: op.TableID,
		State:   StatePending,
	}
	fail := func(err error) OperationResult {
		result.State = StateFailed
		result.Err = err
		result.Error = err.Error()
		return result
	}

	if op.TableID == "" {
		return fail(fmt.Errorf("operation has no table"))
	}

	// Column metadata is re-fetched for every operation: a prior operation
	// in this batch may have changed the table's structure.
	columns, err := o.cache.FreshColumns(ctx, docID, op.TableID)
	if err != nil {
		return fail(err)
	}
	types := core.TypesOf(columns)

	var encoded []map[string]any
	switch op.Kind {
	case core.ActionAdd, core.ActionUpdate, core.ActionUpsert:
		if len(op.Records) == 0 {
			return fail(fmt.Errorf("%s operation has no records", op.Kind))
		}

		result.State = StateEncoding
		encoded = make([]map[string]any, len(op.Records))
		for i, record := range op.Records {
			wire, err := codec.EncodeRecord(record, types)
			if err != nil {
				return fail(fmt.Errorf("record %d: %w", i, err))
			}
			encoded[i] = wire
		}

		result.State = StateValidating
		if err := o.validate(encoded, columns); err != nil {
			return fail(err)
		}
		if o.checker != nil {
			if _, err := o.checker.CheckRecords(ctx, docID, encoded, columns); err != nil {
				return fail(err)
			}
		}
	case core.ActionDelete:
		if len(op.RowIDs) == 0 {
			return fail(fmt.Errorf("delete operation has no row ids"))
		}
	default:
		return fail(fmt.Errorf("unknown action kind %q", op.Kind))
	}

	result.State = StateApplying
	var rowIDs []int64
	switch op.Kind {
	case core.ActionAdd:
		rowIDs, err = o.applyAdd(ctx, docID, op.TableID, encoded)
	case core.ActionUpdate:
		rowIDs, err = o.applyUpdate(ctx, docID, op.TableID, op.RowIDs, encoded)
	case core.ActionDelete:
		rowIDs, err = o.applyDelete(ctx, docID, op.TableID, op.RowIDs)
	case core.ActionUpsert:
		rowIDs, err = o.applyUpsert(ctx, docID, op.TableID, encoded, op.Upsert)
	}
	if err != nil {
		return fail(err)
	}
	result.RowIDs = rowIDs
	result.Count = len(rowIDs)

	// The table's cached schema may be stale after any mutation: formulas
	// and dependent state can shift column metadata.
	if err := o.cache.Invalidate(ctx, docID, op.TableID); err != nil {
		log.Printf("[BATCH] Failed to invalidate schema for %s.%s: %v", docID, op.TableID, err)
	}
	o.journalEvent(ctx, batchID, docID, op.Kind, op.TableID, rowIDs)

	if o.doVerify {
		result.State = StateVerifying
		verification, err := o.verifyOperation(ctx, docID, op, encoded, rowIDs)
		if err != nil {
			return fail(err)
		}
		result.Verification = verification
		if !verification.Passed() {
			return fail(fmt.Errorf("verification failed: %s", verification.Summary()))
		}
	}

	result.State = StateSucceeded
	result.Success = true
	return result
}

// validate structurally checks every encoded record and aggregates the
// failures across the whole batch.
func (o *Orchestrator) validate(records []map[string]any, columns []core.Column) error {
	var failures []RecordFailure
	for i, record := range records {
		if cellErrs := o.valid.ValidateRecord(record, columns); len(cellErrs) > 0 {
			failures = append(failures, RecordFailure{RecordIndex: i, Cells: cellErrs})
		}
	}
	if len(failures) > 0 {
		return &ValidationError{Failures: failures}
	}
	return nil
}

func (o *Orchestrator) applyAdd(ctx context.Context, docID, tableID string, records []map[string]any) ([]int64, error) {
	action := actions.NewBulkAdd(tableID, records)
	reply, err := o.backend.Apply(ctx, docID, []core.UserAction{action})
	if err != nil {
		return nil, err
	}
	if len(reply.RetValues) == 0 {
		return nil, fmt.Errorf("apply returned no assigned row ids")
	}
	ids := core.RowIDs(reply.RetValues[0])
	if len(ids) != len(records) {
		return nil, fmt.Errorf("apply assigned %d row ids for %d records", len(ids), len(records))
	}
	return ids, nil
}

func (o *Orchestrator) applyUpdate(ctx context.Context, docID, tableID string, ids []int64, records []map[string]any) ([]int64, error) {
	action, err := actions.NewBulkUpdate(tableID, ids, records)
	if err != nil {
		return nil, err
	}
	if _, err := o.backend.Apply(ctx, docID, []core.UserAction{action}); err != nil {
		return nil, err
	}
	return ids, nil
}

func (o *Orchestrator) applyDelete(ctx context.Context, docID, tableID string, ids []int64) ([]int64, error) {
	action := actions.NewBulkRemove(tableID, ids)
	if _, err := o.backend.Apply(ctx, docID, []core.UserAction{action}); err != nil {
		return nil, err
	}
	return ids, nil
}

// journalEvent appends a mutation event. Journal failures are logged, never
// propagated: the synchronous cache invalidation above is the correctness
// mechanism, the journal is advisory.
func (o *Orchestrator) journalEvent(ctx context.Context, batchID, docID string, kind core.ActionKind, tableID string, rowIDs []int64) {
	if o.journal == nil {
		return
	}
	event := &core.MutationEvent{
		BatchID:   batchID,
		DocID:     docID,
		TableID:   tableID,
		Action:    kind,
		RowIDs:    rowIDs,
		Timestamp: time.Now().UTC(),
	}
	if err := o.journal.Append(ctx, event); err != nil {
		log.Printf("[BATCH] Failed to journal %s on %s.%s: %v", kind, docID, tableID, err)
	}
}

// verifyOperation re-reads the affected rows and compares them to what was
// written. Deletes verify absence instead.
func (o *Orchestrator) verifyOperation(ctx context.Context, docID string, op Operation, encoded []map[string]any, rowIDs []int64) (*verify.Result, error) {
	filter := map[string][]any{"id": idFilter(rowIDs)}
	rows, err := o.backend.Records(ctx, docID, op.TableID, filter)
	if err != nil {
		return nil, fmt.Errorf("verification read-back failed: %w", err)
	}

	if op.Kind == core.ActionDelete {
		return verify.Deleted(rowIDs, rows), nil
	}

	// Upserts may skip records and reorder matches, so per-field pairing
	// between written records and row ids is unavailable; verify presence.
	if op.Kind == core.ActionUpsert {
		return verify.Exists(rowIDs, rows), nil
	}

	columns, err := o.cache.Columns(ctx, docID, op.TableID)
	if err != nil {
		return nil, err
	}
	return verify.Records(encoded, rowIDs, rows, verify.Options{Types: core.TypesOf(columns)})
}

func idFilter(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
