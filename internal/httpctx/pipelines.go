package httpctx

import (
	"context"
	"net/http"
)

// Pipelines is a thin CRUD collaborator for pipeline descriptors. Per
// spec.md §4.1/§6 it is a collaborator only: the worker never calls it
// during withdraw/execute/archive/report, it exists for CLI inspection
// and workspace bootstrap tooling.
type Pipelines struct {
	*Client
}

// NewPipelines builds a Pipelines client.
func NewPipelines(opts Options) *Pipelines { return &Pipelines{Client: New(opts)} }

// Get fetches a single pipeline descriptor by name.
func (p *Pipelines) Get(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	err := p.do(ctx, http.MethodGet, "/pipelines/"+name, nil, &out)
	return out, err
}

// Deposit registers or replaces a pipeline descriptor.
func (p *Pipelines) Deposit(ctx context.Context, name string, descriptor map[string]any) (bool, error) {
	return retryable(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		err := p.do(ctx, http.MethodPost, "/pipelines/"+name, descriptor, &ok)
		return ok, err
	})
}

// Delete removes a pipeline descriptor.
func (p *Pipelines) Delete(ctx context.Context, name string) (bool, error) {
	return retryable(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		err := p.do(ctx, http.MethodDelete, "/pipelines/"+name, nil, &ok)
		return ok, err
	})
}

// Configs is a thin CRUD collaborator for named configuration documents,
// mirroring Pipelines (spec.md §4.1/§6).
type Configs struct {
	*Client
}

// NewConfigs builds a Configs client.
func NewConfigs(opts Options) *Configs { return &Configs{Client: New(opts)} }

// Get fetches a named config document.
func (c *Configs) Get(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/configs/"+name, nil, &out)
	return out, err
}

// Deposit registers or replaces a config document.
func (c *Configs) Deposit(ctx context.Context, name string, doc map[string]any) (bool, error) {
	return retryable(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		err := c.do(ctx, http.MethodPost, "/configs/"+name, doc, &ok)
		return ok, err
	})
}

// Schedules is a thin CRUD collaborator for cron-like schedule
// descriptors, mirroring Pipelines (spec.md §4.1/§6).
type Schedules struct {
	*Client
}

// NewSchedules builds a Schedules client.
func NewSchedules(opts Options) *Schedules { return &Schedules{Client: New(opts)} }

// Get fetches a named schedule.
func (s *Schedules) Get(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	err := s.do(ctx, http.MethodGet, "/schedules/"+name, nil, &out)
	return out, err
}

// Deposit registers or replaces a schedule.
func (s *Schedules) Deposit(ctx context.Context, name string, doc map[string]any) (bool, error) {
	return retryable(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		err := s.do(ctx, http.MethodPost, "/schedules/"+name, doc, &ok)
		return ok, err
	})
}
