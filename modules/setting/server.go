// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import "time"

// Server settings of the ingestion API
var Server = struct {
	HTTPAddr      string
	EnableMetrics bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}{
	HTTPAddr:      "127.0.0.1:9280",
	EnableMetrics: true,
}

func loadServerFrom(rootCfg ConfigProvider) {
	sec := rootCfg.Section("server")
	Server.HTTPAddr = sec.Key("HTTP_ADDR").MustString("127.0.0.1:9280")
	Server.EnableMetrics = sec.Key("ENABLE_METRICS").MustBool(true)
	Server.ReadTimeout = sec.Key("READ_TIMEOUT").MustDuration(30 * time.Second)
	Server.WriteTimeout = sec.Key("WRITE_TIMEOUT").MustDuration(5 * time.Minute)
}
