// Copyright 2019 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Dead letter store types
const (
	DeadLetterTypeNone  = "none"
	DeadLetterTypeLog   = "log"
	DeadLetterTypeLevel = "level"
	DeadLetterTypeRedis = "redis"
)

// DeadLetter settings: where failed works and correlation incidents are kept for operators
var DeadLetter = struct {
	Type      string
	DataDir   string
	ConnStr   string
	QueueName string

	ReplaySchedule string // cron expression, empty disables the replay while serving
	ReplayLimit    int
}{
	Type:        DeadLetterTypeLog,
	QueueName:   "esbulk_dead_letter",
	ReplayLimit: 100,
}

func loadDeadLetterFrom(rootCfg ConfigProvider) error {
	sec := rootCfg.Section("dead_letter")
	DeadLetter.Type = sec.Key("TYPE").In(DeadLetterTypeLog, []string{DeadLetterTypeNone, DeadLetterTypeLog, DeadLetterTypeLevel, DeadLetterTypeRedis})
	DeadLetter.DataDir = sec.Key("DATADIR").MustString("dead_letter")
	if !filepath.IsAbs(DeadLetter.DataDir) {
		DeadLetter.DataDir = filepath.Join(AppDataPath, DeadLetter.DataDir)
	}
	DeadLetter.ConnStr = sec.Key("CONN_STR").MustString("redis://127.0.0.1:6379/0")
	DeadLetter.QueueName = sec.Key("QUEUE_NAME").MustString("esbulk_dead_letter")
	DeadLetter.ReplaySchedule = sec.Key("REPLAY_SCHEDULE").MustString("")
	DeadLetter.ReplayLimit = sec.Key("REPLAY_LIMIT").MustInt(100)
	return nil
}

// ParseQueueConnStr parses a queue connection string
func ParseQueueConnStr(connStr string) (network, addrs, password string, dbIdx int, err error) {
	fields := strings.Fields(connStr)
	for _, f := range fields {
		items := strings.SplitN(f, "=", 2)
		if len(items) < 2 {
			continue
		}
		switch strings.ToLower(items[0]) {
		case "network":
			network = items[1]
		case "addrs":
			addrs = items[1]
		case "password":
			password = items[1]
		case "db":
			dbIdx, err = strconv.Atoi(items[1])
			if err != nil {
				return network, addrs, password, dbIdx, err
			}
		}
	}
	return network, addrs, password, dbIdx, err
}
