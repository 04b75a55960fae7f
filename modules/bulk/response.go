// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"fmt"
	"io"

	"code.gitea.io/esbulk/modules/json"
)

// Response is the parsed body of a _bulk response
type Response struct {
	Took   int
	Errors bool
	Items  []*ResponseItem
}

// ResponseItem is the outcome of one item of a bulk request
type ResponseItem struct {
	Action  string     `json:"-"`
	Index   string     `json:"_index"`
	ID      string     `json:"_id"`
	Version int64      `json:"_version"`
	Result  string     `json:"result"`
	Status  int        `json:"status"`
	Error   *ItemError `json:"error,omitempty"`
}

type rawResponse struct {
	Took   int                        `json:"took"`
	Errors bool                       `json:"errors"`
	Items  []map[string]*ResponseItem `json:"items"`
}

// ParseResponse decodes a _bulk response body
func ParseResponse(r io.Reader) (*Response, error) {
	var raw rawResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("unable to decode bulk response: %w", err)
	}

	resp := &Response{
		Took:   raw.Took,
		Errors: raw.Errors,
		Items:  make([]*ResponseItem, 0, len(raw.Items)),
	}
	for i, m := range raw.Items {
		if len(m) != 1 {
			return nil, fmt.Errorf("bulk response item %d has %d actions", i, len(m))
		}
		for action, item := range m {
			if item == nil {
				return nil, fmt.Errorf("bulk response item %d is empty", i)
			}
			item.Action = action
			resp.Items = append(resp.Items, item)
		}
	}
	return resp, nil
}
