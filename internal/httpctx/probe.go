package httpctx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Probe iterates candidate base URLs and returns the first one that
// answers a GET /version within a short deadline, logging each failure.
// Restored from the original pipeline.py's run(), which iterated
// base_urls and picked the first reachable one (SPEC_FULL.md supplemental
// features §1); used when a workspace declares more than one candidate
// baseurl for a collaborator service.
func Probe(ctx context.Context, urls []string) (string, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	var lastErr error
	for _, base := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinPath(base, "/version"), nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			slog.Warn("probe: base url unreachable", "url", base, "error", err)
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			slog.Warn("probe: base url returned server error", "url", base, "status", resp.StatusCode)
			lastErr = fmt.Errorf("probe %s: status %d", base, resp.StatusCode)
			continue
		}
		return base, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("probe: no candidate base urls provided")
	}
	return "", fmt.Errorf("probe: no reachable base url: %w", lastErr)
}
