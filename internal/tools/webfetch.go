package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultFetchLimit = 1 << 20
	maxFetchLimit     = 8 << 20
)

// webFetchTool performs a size-capped HTTP GET.
type webFetchTool struct {
	client *http.Client
}

func newWebFetchTool() *webFetchTool {
	return &webFetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (*webFetchTool) Name() string { return "webfetch" }

func (w *webFetchTool) Run(ctx context.Context, _ *Env, args map[string]any) (*Result, error) {
	limit := min(max(intArg(args, "max_bytes", defaultFetchLimit), 1), maxFetchLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stringArg(args, "url", ""), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "agentgate-webfetch/1")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	truncated := len(body) > limit
	if truncated {
		body = body[:limit]
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: %s", req.URL, resp.Status)
	}
	return &Result{Output: string(body), Truncated: truncated}, nil
}
