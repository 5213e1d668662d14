// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// modelsTimeout bounds a shared model list request, which runs detached from
// any single caller's context.
const modelsTimeout = 30 * time.Second

type modelsResponse struct {
	Object string `json:"object"`
	Data   []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the ids from GET {base}/v1/models, sorted. Concurrent
// calls for the same endpoint share one request; a caller that gives up
// leaves the request running for the others.
func (c *Client) ListModels(ctx context.Context, ep Endpoint) ([]string, error) {
	if ep.APIKey == "" {
		return nil, ErrNotConfigured
	}

	key := ep.url("") + "\x00" + ep.APIKey
	ch := c.models.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), modelsTimeout)
		defer cancel()
		return c.fetchModels(fetchCtx, ep)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.log.Debug().Msg("model list shared with concurrent caller")
	}

	ids := res.Val.([]string)
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (c *Client) fetchModels(ctx context.Context, ep Endpoint) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, ep.url("/v1/models"), ep.APIKey, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, requestError(resp)
	}
	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var out modelsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "parse model list")
	}

	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
