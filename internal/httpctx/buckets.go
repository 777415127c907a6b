package httpctx

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/chimefrb/workflow/internal/work"
)

// Buckets is the client for the queue service described in spec.md §4.1/§6.
type Buckets struct {
	*Client
}

// NewBuckets builds a Buckets client.
func NewBuckets(opts Options) *Buckets { return &Buckets{Client: New(opts)} }

// WithdrawFilter composes the additive withdraw query of spec.md §6: empty
// filters are omitted from the request body.
type WithdrawFilter struct {
	Pipeline string
	Site     string
	Priority int
	User     string
	Event    []int
	Tags     []string
	Parent   string
}

func (f WithdrawFilter) body() map[string]any {
	b := map[string]any{"pipeline": f.Pipeline}
	if f.Site != "" {
		b["site"] = f.Site
	}
	if f.Priority != 0 {
		b["priority"] = f.Priority
	}
	if f.User != "" {
		b["user"] = f.User
	}
	if len(f.Event) > 0 {
		b["event"] = map[string]any{"$in": f.Event}
	}
	if len(f.Tags) > 0 {
		b["tags"] = map[string]any{"$in": f.Tags}
	}
	if f.Parent != "" {
		b["config.parent"] = f.Parent
	}
	return b
}

// Withdraw atomically dequeues the highest-priority matching Work, or
// returns nil if the queue is empty for the filter. A network error returns
// ErrTransient and consumes no work, per spec.md §4.5.1 step 1.
func (b *Buckets) Withdraw(ctx context.Context, filter WithdrawFilter) (*work.Work, error) {
	var payload *map[string]any
	err := b.do(ctx, http.MethodPost, "/work/withdraw", filter.body(), &payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	data, err := marshalAny(*payload)
	if err != nil {
		return nil, fmt.Errorf("re-marshal withdrawn work: %w", err)
	}
	return work.FromJSON(data)
}

// Deposit inserts Work rows, per spec.md §4.1/§6. When returnIDs is true the
// server responds with the assigned ids instead of a bare bool.
func (b *Buckets) Deposit(ctx context.Context, works []*work.Work, returnIDs bool) (ids []string, ok bool, err error) {
	payloads := make([]map[string]any, 0, len(works))
	for _, w := range works {
		data, merr := w.ToJSON()
		if merr != nil {
			return nil, false, fmt.Errorf("marshal work: %w", merr)
		}
		var m map[string]any
		if merr := unmarshalAny(data, &m); merr != nil {
			return nil, false, merr
		}
		payloads = append(payloads, m)
	}

	path := "/work?return_ids=" + url.QueryEscape(boolString(returnIDs))
	result, err := retryable(ctx, func(ctx context.Context) (depositResult, error) {
		var raw any
		if err := b.do(ctx, http.MethodPost, path, payloads, &raw); err != nil {
			return depositResult{}, err
		}
		ids, ok, err := parseDepositResponse(raw, returnIDs)
		return depositResult{ids: ids, ok: ok}, err
	})
	return result.ids, result.ok, err
}

type depositResult struct {
	ids []string
	ok  bool
}

func parseDepositResponse(raw any, returnIDs bool) ([]string, bool, error) {
	if !returnIDs {
		v, _ := raw.(bool)
		return nil, v, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false, fmt.Errorf("unexpected deposit response shape")
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, true, nil
}

// Update persists status/stop/results/products/plots for a batch of Work.
func (b *Buckets) Update(ctx context.Context, works []*work.Work) (bool, error) {
	payloads := make([]map[string]any, 0, len(works))
	for _, w := range works {
		data, err := w.ToJSON()
		if err != nil {
			return false, fmt.Errorf("marshal work: %w", err)
		}
		var m map[string]any
		if err := unmarshalAny(data, &m); err != nil {
			return false, err
		}
		payloads = append(payloads, m)
	}
	return retryable(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		err := b.do(ctx, http.MethodPut, "/work", payloads, &ok)
		return ok, err
	})
}

// DeleteIDs removes Work rows by id.
func (b *Buckets) DeleteIDs(ctx context.Context, ids []string) (bool, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", id)
	}
	path := "/work?" + q.Encode()
	return retryable(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		err := b.do(ctx, http.MethodDelete, path, nil, &ok)
		return ok, err
	})
}

// ViewQuery is the server-side projection query of spec.md §4.1/§6.
type ViewQuery struct {
	Query      map[string]any
	Projection map[string]any
	Skip       int
	Limit      int
}

// View returns matching Work rows; `_id` is always suppressed server-side.
func (b *Buckets) View(ctx context.Context, q ViewQuery) ([]*work.Work, error) {
	body := map[string]any{
		"query":      q.Query,
		"projection": q.Projection,
		"skip":       q.Skip,
		"limit":      q.Limit,
	}
	var raw []map[string]any
	if err := b.do(ctx, http.MethodPost, "/view", body, &raw); err != nil {
		return nil, err
	}
	out := make([]*work.Work, 0, len(raw))
	for _, m := range raw {
		data, err := marshalAny(m)
		if err != nil {
			return nil, err
		}
		w, err := work.FromJSON(data)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// AuditCounts is the {failed,expired,stale} result of one Audit() tick.
type AuditCounts struct {
	Failed  int `json:"failed"`
	Expired int `json:"expired"`
	Stale   int `json:"stale"`
}

// Audit invokes the three server-side sweeps in fixed order and returns
// their counts, per spec.md §4.1/§4.6.
func (b *Buckets) Audit(ctx context.Context) (AuditCounts, error) {
	var counts AuditCounts
	var err error
	counts.Failed, err = b.auditEndpoint(ctx, "/audit/failed")
	if err != nil {
		return counts, err
	}
	counts.Expired, err = b.auditEndpoint(ctx, "/audit/expired")
	if err != nil {
		return counts, err
	}
	counts.Stale, err = b.auditEndpoint(ctx, "/audit/stale/7.0")
	if err != nil {
		return counts, err
	}
	return counts, nil
}

func (b *Buckets) auditEndpoint(ctx context.Context, path string) (int, error) {
	var n int
	err := b.do(ctx, http.MethodGet, path, nil, &n)
	return n, err
}

// DeleteMany implements spec.md §4.1's bulk delete: ids matching pipeline
// (plus optional status/events filters) are listed via View, then the
// operator is prompted for confirmation unless force is set. The prompt is
// required — silent bulk delete is forbidden. Returns false without
// deleting anything if there is nothing to delete or the operator declines.
func (b *Buckets) DeleteMany(ctx context.Context, pipeline, status string, events []int, force bool) (bool, error) {
	query := map[string]any{"pipeline": pipeline}
	if status != "" {
		query["status"] = status
	}
	if len(events) > 0 {
		query["event"] = map[string]any{"$in": events}
	}

	rows, err := b.View(ctx, ViewQuery{Query: query, Projection: map[string]any{"id": true}})
	if err != nil {
		return false, fmt.Errorf("list candidates for delete_many: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}

	ids := make([]string, len(rows))
	for i, w := range rows {
		ids[i] = w.ID
	}

	if !force && !confirmDeleteMany(pipeline, status, events, len(ids)) {
		return false, nil
	}

	return b.DeleteIDs(ctx, ids)
}

// confirmDeleteMany prompts the operator on stdin/stdout. There is no way
// to bypass this short of passing force=true to DeleteMany.
func confirmDeleteMany(pipeline, status string, events []int, count int) bool {
	fmt.Printf("About to delete %d work entries from bucket %q", count, pipeline)
	if status != "" {
		fmt.Printf(" with status %q", status)
	}
	if len(events) > 0 {
		fmt.Printf(" for events %v", events)
	}
	fmt.Println(". This cannot be undone.")
	fmt.Print("Proceed? [y/N] ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
