// Package integrity cross-references candidate values against live remote
// state: a Ref value should identify a row that exists in the target table,
// and a Choice value should be a member of the configured choice set.
// Structural validation has already happened by the time these checks run.
package integrity

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/codec"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/schema"
)

// Policy selects what happens when an integrity issue is found. The backend
// itself is permissive about dangling references and out-of-set choices, so
// the default mirrors that leniency and only warns.
type Policy string

const (
	// PolicyWarn logs issues and reports them as advisory.
	PolicyWarn Policy = "warn"

	// PolicyFail turns issues into a hard error.
	PolicyFail Policy = "fail"
)

// Issue describes one semantically implausible value.
type Issue struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
	Reason string `json:"reason"`
}

// Error is returned under PolicyFail when any issue was found.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	reasons := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		reasons[i] = fmt.Sprintf("column %q: %s", issue.Column, issue.Reason)
	}
	return fmt.Sprintf("%d integrity issue(s): %s", len(e.Issues), strings.Join(reasons, "; "))
}

// Checker verifies candidate values against live state. Reference lookups
// are batched: one filtered read resolves all candidate ids per target
// table, not one request per id.
type Checker struct {
	backend core.Backend
	policy  Policy
}

// NewChecker creates a checker with the given policy.
func NewChecker(backend core.Backend, policy Policy) *Checker {
	if policy == "" {
		policy = PolicyWarn
	}
	return &Checker{backend: backend, policy: policy}
}

// Policy returns the configured policy.
func (c *Checker) Policy() Policy {
	return c.policy
}

// CheckRecords checks a batch of wire-encoded records against the table's
// columns. Under PolicyWarn the issues are returned with a nil error; under
// PolicyFail a non-empty issue list is also returned as an *Error.
func (c *Checker) CheckRecords(ctx context.Context, docID string, records []map[string]any, columns []core.Column) ([]Issue, error) {
	var issues []Issue

	issues = append(issues, c.checkChoices(records, columns)...)

	refIssues, err := c.checkReferences(ctx, docID, records, columns)
	if err != nil {
		return nil, err
	}
	issues = append(issues, refIssues...)

	if len(issues) == 0 {
		return nil, nil
	}
	if c.policy == PolicyFail {
		return issues, &Error{Issues: issues}
	}
	for _, issue := range issues {
		log.Printf("[INTEGRITY] column %q: %s (value: %v)", issue.Column, issue.Reason, issue.Value)
	}
	return issues, nil
}

// checkChoices verifies Choice/ChoiceList values against the configured
// choice set. An empty or unparseable choice set admits everything.
func (c *Checker) checkChoices(records []map[string]any, columns []core.Column) []Issue {
	var issues []Issue
	for _, col := range columns {
		base := core.BaseType(col.Type)
		if base != core.TypeChoice && base != core.TypeChoiceList {
			continue
		}
		opts, err := schema.ParseWidgetOptions(col.WidgetOptions)
		if err != nil || len(opts.Choices) == 0 {
			continue
		}

		for _, record := range records {
			value, ok := record[col.ID]
			if !ok || value == nil {
				continue
			}
			for _, choice := range choiceValues(value) {
				if !opts.HasChoice(choice) {
					issues = append(issues, Issue{
						Column: col.ID,
						Value:  choice,
						Reason: fmt.Sprintf("%q is not in the configured choice set %v", choice, opts.Choices),
					})
				}
			}
		}
	}
	return issues
}

// checkReferences confirms that every referenced row id exists in its
// target table, one filtered read per target table.
func (c *Checker) checkReferences(ctx context.Context, docID string, records []map[string]any, columns []core.Column) ([]Issue, error) {
	// target table -> candidate ids, and which (column, id) pairs want them
	type candidate struct {
		column string
		id     int64
	}
	wanted := make(map[string][]candidate)

	for _, col := range columns {
		base := core.BaseType(col.Type)
		if base != core.TypeRef && base != core.TypeRefList {
			continue
		}
		target := core.TypeParam(col.Type)
		if target == "" {
			continue
		}
		for _, record := range records {
			value, ok := record[col.ID]
			if !ok || value == nil {
				continue
			}
			for _, id := range referenceIDs(value) {
				wanted[target] = append(wanted[target], candidate{column: col.ID, id: id})
			}
		}
	}

	var issues []Issue
	for target, candidates := range wanted {
		ids := make([]any, 0, len(candidates))
		seen := make(map[int64]struct{}, len(candidates))
		for _, cand := range candidates {
			if _, dup := seen[cand.id]; dup {
				continue
			}
			seen[cand.id] = struct{}{}
			ids = append(ids, cand.id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].(int64) < ids[j].(int64) })

		rows, err := c.backend.Records(ctx, docID, target, map[string][]any{"id": ids})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve references into %q: %w", target, err)
		}
		existing := make(map[int64]struct{}, len(rows))
		for _, row := range rows {
			existing[row.ID] = struct{}{}
		}

		for _, cand := range candidates {
			if _, ok := existing[cand.id]; !ok {
				issues = append(issues, Issue{
					Column: cand.column,
					Value:  cand.id,
					Reason: fmt.Sprintf("row %d does not exist in table %q", cand.id, target),
				})
			}
		}
	}
	return issues, nil
}

// choiceValues extracts the candidate strings from a Choice scalar or a
// list-tagged ChoiceList value.
func choiceValues(value any) []string {
	if s, ok := value.(string); ok {
		return []string{s}
	}
	if tagged, ok := codec.ParseTagged(value); ok && tagged.Tag == codec.TagList {
		choices := make([]string, 0, len(tagged.Payload))
		for _, item := range tagged.Payload {
			if s, ok := item.(string); ok {
				choices = append(choices, s)
			}
		}
		return choices
	}
	return nil
}

// referenceIDs extracts the candidate row ids from a Ref scalar or a
// list-tagged RefList value.
func referenceIDs(value any) []int64 {
	if id, ok := core.AsInt64(value); ok {
		return []int64{id}
	}
	tagged, ok := codec.ParseTagged(value)
	if !ok {
		return nil
	}
	switch tagged.Tag {
	case codec.TagReference:
		if len(tagged.Payload) >= 1 {
			if id, ok := core.AsInt64(tagged.Payload[len(tagged.Payload)-1]); ok {
				return []int64{id}
			}
		}
	case codec.TagList, codec.TagReferenceList:
		ids := make([]int64, 0, len(tagged.Payload))
		for _, item := range tagged.Payload {
			if id, ok := core.AsInt64(item); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return nil
}
