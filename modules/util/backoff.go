// Copyright 2024 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package util

import (
	"math/rand"
	"time"
)

// Backoff computes exponential delays between attempts.
// The delay of attempt n (starting at 1) is Base*2^(n-1), capped at Ceiling.
// With Jitter the delay is picked uniformly from [d/2, d] ("equal jitter").
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
	Jitter  bool
}

// Delay returns the duration to wait before the given attempt
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if b.Ceiling > 0 && d >= b.Ceiling {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if b.Ceiling > 0 && d > b.Ceiling {
		d = b.Ceiling
	}
	if !b.Jitter || d < 2 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)+1))
}
