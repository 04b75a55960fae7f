// Copyright 2022 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import (
	"fmt"
	"time"
)

// CORSConfig defines CORS settings of the ingestion API
var CORSConfig = struct {
	Enabled          bool
	AllowDomain      []string // allowed origins
	Methods          []string
	MaxAge           time.Duration
	AllowCredentials bool
	Headers          []string
}{
	AllowDomain: []string{"*"},
	Methods:     []string{"GET", "HEAD", "POST"},
	Headers:     []string{"Content-Type"},
	MaxAge:      10 * time.Minute,
}

func loadCorsFrom(rootCfg ConfigProvider) error {
	if err := rootCfg.Section("cors").MapTo(&CORSConfig); err != nil {
		return fmt.Errorf("unable to map [cors] settings: %w", err)
	}
	return nil
}
