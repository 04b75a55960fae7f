// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"code.gitea.io/esbulk/modules/bulk"
)

// WorkResult is the outcome of one line of a works request
type WorkResult struct {
	Line    int    `json:"line"`
	Index   string `json:"index,omitempty"`
	ID      string `json:"id,omitempty"`
	Status  int    `json:"status,omitempty"`
	Result  string `json:"result,omitempty"`
	Retries int    `json:"retries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WorksResponse is the answer of POST /api/v1/works
type WorksResponse struct {
	Errors  bool          `json:"errors"`
	Results []*WorkResult `json:"results"`
}

type pending struct {
	result     *WorkResult
	completion *bulk.Completion
}

// submitWorks queues every line of a NDJSON body, with "wait" (the default) it answers
// once every work is resolved, with "flush" it sends partial batches right away
func submitWorks(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		wait := queryBool(r, "wait", true)
		doFlush := queryBool(r, "flush", false)

		resp := &WorksResponse{Results: []*WorkResult{}}
		var pendings []pending
		status := http.StatusOK

		reader := bulk.NewWorkReader(r.Body)
		for {
			work, err := reader.Next()
			if err == io.EOF {
				break
			}
			var lineErr *bulk.LineError
			if errors.As(err, &lineErr) {
				resp.Errors = true
				resp.Results = append(resp.Results, &WorkResult{Line: lineErr.Line, Error: lineErr.Err.Error()})
				continue
			} else if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}

			result := &WorkResult{Line: reader.Line(), Index: work.IndexName, ID: work.DocumentID}
			resp.Results = append(resp.Results, result)

			c, err := q.Submit(ctx, work)
			if err != nil {
				resp.Errors = true
				result.Error = err.Error()
				switch {
				case errors.Is(err, bulk.ErrQueueFull):
					status = http.StatusTooManyRequests
				case errors.Is(err, bulk.ErrClosed):
					status = http.StatusServiceUnavailable
				}
				continue
			}
			pendings = append(pendings, pending{result: result, completion: c})
		}

		if doFlush {
			if err := q.Flush(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
		}
		if !wait {
			writeJSON(w, http.StatusAccepted, resp)
			return
		}

		for _, p := range pendings {
			res, err := p.completion.Wait(ctx)
			if err != nil {
				resp.Errors = true
				p.result.Error = err.Error()
				continue
			}
			p.result.Retries = p.completion.Retries()
			if res != nil {
				p.result.Status = res.Status
				p.result.Result = res.Result
			}
		}
		writeJSON(w, status, resp)
	}
}

func queryBool(r *http.Request, name string, def bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
