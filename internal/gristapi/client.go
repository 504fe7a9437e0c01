package gristapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// Client talks to the remote document service over HTTP. It implements
// core.Backend. Requests are rate limited client-side so a large batch
// cannot flood the service.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

// APIError is a non-2xx response from the service, carrying the status code
// and the service's error message when one was provided.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (status %d)", e.StatusCode)
}

// NewClient creates a client for the service at baseURL, authenticating
// with the given API key. requestsPerSecond bounds outbound request rate;
// 0 disables rate limiting.
func NewClient(baseURL, apiKey string, timeout time.Duration, requestsPerSecond int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Columns fetches the column metadata for a table.
func (c *Client) Columns(ctx context.Context, docID, tableID string) ([]core.Column, error) {
	path := fmt.Sprintf("/api/docs/%s/tables/%s/columns",
		url.PathEscape(docID), url.PathEscape(tableID))

	var reply struct {
		Columns []struct {
			ID     string `json:"id"`
			Fields struct {
				Type          string `json:"type"`
				Label         string `json:"label"`
				Formula       string `json:"formula"`
				IsFormula     bool   `json:"isFormula"`
				WidgetOptions string `json:"widgetOptions"`
				VisibleCol    int64  `json:"visibleCol"`
			} `json:"fields"`
		} `json:"columns"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return nil, fmt.Errorf("failed to fetch columns for %s.%s: %w", docID, tableID, err)
	}

	columns := make([]core.Column, 0, len(reply.Columns))
	for _, col := range reply.Columns {
		columns = append(columns, core.Column{
			ID:            col.ID,
			Type:          col.Fields.Type,
			Label:         col.Fields.Label,
			Formula:       col.Fields.Formula,
			IsFormula:     col.Fields.IsFormula,
			WidgetOptions: col.Fields.WidgetOptions,
			VisibleCol:    col.Fields.VisibleCol,
		})
	}
	return columns, nil
}

// Apply submits wire-level action tuples for execution.
func (c *Client) Apply(ctx context.Context, docID string, actions []core.UserAction) (*core.ApplyResult, error) {
	if len(actions) == 0 {
		return &core.ApplyResult{}, nil
	}

	tuples := make([][]any, len(actions))
	for i, action := range actions {
		tuples[i] = action.Tuple()
		log.Printf("[GRIST] Applying %s to document %s", action.Name(), docID)
	}

	path := fmt.Sprintf("/api/docs/%s/apply", url.PathEscape(docID))
	var reply core.ApplyResult
	if err := c.do(ctx, http.MethodPost, path, tuples, &reply); err != nil {
		return nil, fmt.Errorf("apply failed for document %s: %w", docID, err)
	}
	return &reply, nil
}

// Records reads rows from a table. A non-empty filter restricts the result
// to rows whose column values match one of the given candidates, letting
// one request resolve many lookups.
func (c *Client) Records(ctx context.Context, docID, tableID string, filter map[string][]any) ([]core.RowRecord, error) {
	path := fmt.Sprintf("/api/docs/%s/tables/%s/records",
		url.PathEscape(docID), url.PathEscape(tableID))

	if len(filter) > 0 {
		encoded, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record filter: %w", err)
		}
		path += "?filter=" + url.QueryEscape(string(encoded))
	}

	var reply struct {
		Records []core.RowRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return nil, fmt.Errorf("failed to read records from %s.%s: %w", docID, tableID, err)
	}
	return reply.Records, nil
}

// SQL executes a read-only query against the document. The query text is
// passed through verbatim; the service does the planning.
func (c *Client) SQL(ctx context.Context, docID, query string, args []any) ([]map[string]any, error) {
	path := fmt.Sprintf("/api/docs/%s/sql", url.PathEscape(docID))

	body := map[string]any{"sql": query}
	if len(args) > 0 {
		body["args"] = args
	}

	var reply struct {
		Records []struct {
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &reply); err != nil {
		return nil, fmt.Errorf("sql query failed for document %s: %w", docID, err)
	}

	rows := make([]map[string]any, 0, len(reply.Records))
	for _, rec := range reply.Records {
		rows = append(rows, rec.Fields)
	}
	return rows, nil
}

// do performs one rate-limited request and decodes the JSON reply into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var serviceErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = json.Unmarshal(data, &serviceErr)
		return &APIError{StatusCode: resp.StatusCode, Message: serviceErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
