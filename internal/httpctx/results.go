package httpctx

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chimefrb/workflow/internal/work"
)

// Results is the client for the long-term retention store described in
// spec.md §4.1/§6.
type Results struct {
	*Client
}

// NewResults builds a Results client.
func NewResults(opts Options) *Results { return &Results{Client: New(opts)} }

// Deposit inserts a batch of terminal Work into Results.
func (r *Results) Deposit(ctx context.Context, works []*work.Work) (bool, error) {
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
		err := r.do(ctx, http.MethodPost, "/deposit", payloads, &ok)
		return ok, err
	})
}

// Exists reports whether a Work with the given pipeline+id is already present
// in Results, used by the transfer daemon's per-id reconciliation (spec.md §4.7).
func (r *Results) Exists(ctx context.Context, pipeline, id string) (bool, error) {
	var rows []map[string]any
	body := map[string]any{
		"query":      map[string]any{"pipeline": pipeline, "id": id},
		"projection": map[string]any{"id": 1},
	}
	if err := r.do(ctx, http.MethodPost, "/view", body, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Count returns the total number of rows held in Results.
func (r *Results) Count(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, http.MethodGet, "/status", nil, &n)
	return n, err
}

// View runs a raw query against Results.
func (r *Results) View(ctx context.Context, query map[string]any) ([]*work.Work, error) {
	body := map[string]any{"query": query}
	var raw []map[string]any
	if err := r.do(ctx, http.MethodPost, "/view", body, &raw); err != nil {
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
