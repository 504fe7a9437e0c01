package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/actions"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// ErrEmptyRequire is returned for an upsert whose require key set is empty
// without an explicit opt-in. An empty key set matches every row, which is
// almost never what the caller meant.
var ErrEmptyRequire = errors.New("upsert with no require keys matches every row; set AllowEmptyRequire to permit this")

// applyUpsert matches each encoded record against existing rows by its
// require-key values, then updates the matches and inserts the rest. The
// reads and the apply are not atomic; a row inserted by another writer
// between the match and the apply is inserted again.
func (o *Orchestrator) applyUpsert(ctx context.Context, docID, tableID string, records []map[string]any, opts *UpsertOptions) ([]int64, error) {
	if opts == nil {
		opts = &UpsertOptions{}
	}
	if len(opts.Require) == 0 && !opts.AllowEmptyRequire {
		return nil, ErrEmptyRequire
	}
	onMany := opts.OnMany
	if onMany == "" {
		onMany = OnManyFirst
	}

	var (
		inserts   []map[string]any
		updateIDs []int64
		updates   []map[string]any
	)

	for i, record := range records {
		matches, err := o.matchExisting(ctx, docID, tableID, record, opts.Require)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		switch {
		case len(matches) == 0:
			if opts.NoInsert {
				log.Printf("[BATCH] Upsert record %d matched nothing and inserts are disabled, skipping", i)
				continue
			}
			inserts = append(inserts, record)

		case len(matches) == 1:
			if opts.NoUpdate {
				continue
			}
			updateIDs = append(updateIDs, matches[0])
			updates = append(updates, record)

		default:
			if onMany == OnManyError {
				return nil, fmt.Errorf("record %d: require keys %v matched %d rows", i, opts.Require, len(matches))
			}
			if opts.NoUpdate {
				continue
			}
			targets := matches
			if onMany == OnManyFirst {
				targets = matches[:1]
			}
			for _, id := range targets {
				updateIDs = append(updateIDs, id)
				updates = append(updates, record)
			}
		}
	}

	var toApply []core.UserAction
	if len(updates) > 0 {
		action, err := actions.NewBulkUpdate(tableID, updateIDs, updates)
		if err != nil {
			return nil, err
		}
		toApply = append(toApply, action)
	}
	if len(inserts) > 0 {
		toApply = append(toApply, actions.NewBulkAdd(tableID, inserts))
	}
	if len(toApply) == 0 {
		return nil, nil
	}

	reply, err := o.backend.Apply(ctx, docID, toApply)
	if err != nil {
		return nil, err
	}

	affected := append([]int64{}, updateIDs...)
	if len(inserts) > 0 {
		// The add action's return value is the last one when both actions
		// were submitted.
		if len(reply.RetValues) < len(toApply) {
			return nil, fmt.Errorf("apply returned %d values for %d actions", len(reply.RetValues), len(toApply))
		}
		assigned := core.RowIDs(reply.RetValues[len(toApply)-1])
		if len(assigned) != len(inserts) {
			return nil, fmt.Errorf("apply assigned %d row ids for %d inserted records", len(assigned), len(inserts))
		}
		affected = append(affected, assigned...)
	}
	return affected, nil
}

// matchExisting finds the ids of existing rows whose require-key values
// equal the record's. One filtered read resolves the match; ids come back
// sorted so "first" is deterministic.
func (o *Orchestrator) matchExisting(ctx context.Context, docID, tableID string, record map[string]any, require []string) ([]int64, error) {
	filter := make(map[string][]any, len(require))
	for _, key := range require {
		value, ok := record[key]
		if !ok {
			return nil, fmt.Errorf("record has no value for require key %q", key)
		}
		filter[key] = []any{value}
	}

	rows, err := o.backend.Records(ctx, docID, tableID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to match existing rows: %w", err)
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
