package v1

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

type WorkOrderEndpoint struct {
	transport *Transport
}

// Push submits a batch of pending changes and returns the per-item outcomes.
func (ep *WorkOrderEndpoint) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	resp, err := ep.transport.Post(ctx, "/sync/work-orders", req, nil)
	if err != nil {
		return nil, err
	}

	var result PushResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Pull fetches rows changed since the cursor, bounded by limit.
func (ep *WorkOrderEndpoint) Pull(ctx context.Context, since time.Time, limit int) (*PullResponse, error) {
	query := map[string]string{
		"limit": strconv.Itoa(limit),
	}
	if !since.IsZero() {
		query["since"] = since.Format(time.RFC3339Nano)
	}

	resp, err := ep.transport.Get(ctx, "/sync/work-orders", query)
	if err != nil {
		return nil, err
	}

	var result PullResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
