// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

// ItemHandler receives the outcome of every work of a bulk request, pos is the position in the request
type ItemHandler interface {
	Succeeded(pos int, item *ResponseItem)
	Retryable(pos int, err error)
	Failed(pos int, err error)
}

// Demultiplex hands each response item to the handler together with the position of its work.
// If the response does not have exactly one item per work, every work fails with a
// *CorrelationError which is also returned: a shifted response would resolve works with
// the outcome of other works.
func Demultiplex(req *BulkRequest, resp *Response, h ItemHandler) error {
	if resp == nil || len(resp.Items) != len(req.Works) {
		got := 0
		if resp != nil {
			got = len(resp.Items)
		}
		err := &CorrelationError{Expected: len(req.Works), Got: got}
		for pos := range req.Works {
			h.Failed(pos, err)
		}
		return err
	}

	for pos, w := range req.Works {
		item := resp.Items[pos]
		outcome, err := ClassifyItem(w, item)
		switch outcome {
		case OutcomeSuccess:
			h.Succeeded(pos, item)
		case OutcomeRetryable:
			h.Retryable(pos, err)
		default:
			h.Failed(pos, err)
		}
	}
	return nil
}
