// Copyright 2024 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package deadletter

import (
	"context"
	"fmt"
	"sync/atomic"

	"code.gitea.io/esbulk/modules/log"

	"github.com/robfig/cron/v3"
)

// ScheduleReplay replays up to limit incidents of the store every time the schedule fires.
// A run is skipped while the previous one is still submitting.
// The returned function stops the schedule and waits for a running replay.
func ScheduleReplay(ctx context.Context, store Store, q Submitter, schedule string, limit int) (stop func(), err error) {
	var running atomic.Bool
	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		if !running.CompareAndSwap(false, true) {
			return
		}
		defer running.Store(false)

		completions, err := Replay(ctx, store, q, limit)
		if err != nil {
			log.Error("Scheduled replay of the dead letter store failed after %d works: %v", len(completions), err)
			return
		}
		if len(completions) > 0 {
			log.Info("Scheduled replay submitted %d works again", len(completions))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid [dead_letter] REPLAY_SCHEDULE %q: %w", schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
