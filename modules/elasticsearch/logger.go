// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package elasticsearch

import (
	"code.gitea.io/esbulk/modules/log"
)

// elasticLogger lets the olivere client write to our logger at a fixed level
type elasticLogger struct {
	level log.Level
}

func (l elasticLogger) Printf(format string, args ...any) {
	log.GetLogger().Log(2, l.level, format, args...)
}
