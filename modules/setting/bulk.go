// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Submission policies of a bulk queue
const (
	SubmissionPolicyBlocking  = "blocking"
	SubmissionPolicyRejecting = "rejecting"
)

// BulkSettings represent the settings of one bulk queue
type BulkSettings struct {
	Name string

	QueueLength      int
	MaxBatchCount    int
	MaxBatchBytes    int64
	SubmissionPolicy string
	MaxInFlight      int
	FlushInterval    time.Duration
	RequestTimeout   time.Duration

	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
}

// Bulk holds the defaults of the [bulk] section, every [bulk.<name>] section inherits them
var Bulk = BulkSettings{
	QueueLength:      1000,
	MaxBatchCount:    250,
	MaxBatchBytes:    5 * humanize.MiByte,
	SubmissionPolicy: SubmissionPolicyBlocking,
	MaxInFlight:      1,
	FlushInterval:    time.Second,
	RequestTimeout:   time.Minute,
	MaxAttempts:      5,
	BackoffBase:      100 * time.Millisecond,
	BackoffCeiling:   30 * time.Second,
}

func loadBulkFrom(rootCfg ConfigProvider) error {
	deprecatedSetting(rootCfg, "bulk", "BATCH_LENGTH", "bulk", "MAX_BATCH_COUNT")
	q, err := loadBulkSection(rootCfg.Section("bulk"), Bulk)
	if err != nil {
		return err
	}
	Bulk = q
	return nil
}

// GetBulkSettings returns the settings of the named queue, keys of [bulk.<name>] override [bulk]
func GetBulkSettings(rootCfg ConfigProvider, name string) (BulkSettings, error) {
	q, err := loadBulkSection(rootCfg.Section("bulk."+name), Bulk)
	if err != nil {
		return q, err
	}
	q.Name = name
	return q, nil
}

func loadBulkSection(sec ConfigSection, def BulkSettings) (q BulkSettings, err error) {
	q = def
	q.QueueLength = sec.Key("QUEUE_LENGTH").MustInt(def.QueueLength)
	q.MaxBatchCount = sec.Key("MAX_BATCH_COUNT").MustInt(def.MaxBatchCount)
	q.SubmissionPolicy = sec.Key("SUBMISSION_POLICY").In(def.SubmissionPolicy, []string{SubmissionPolicyBlocking, SubmissionPolicyRejecting})
	q.MaxInFlight = sec.Key("MAX_IN_FLIGHT").MustInt(def.MaxInFlight)
	q.FlushInterval = sec.Key("FLUSH_INTERVAL").MustDuration(def.FlushInterval)
	q.RequestTimeout = sec.Key("REQUEST_TIMEOUT").MustDuration(def.RequestTimeout)
	q.MaxAttempts = sec.Key("MAX_ATTEMPTS").MustInt(def.MaxAttempts)
	q.BackoffBase = sec.Key("BACKOFF_BASE").MustDuration(def.BackoffBase)
	q.BackoffCeiling = sec.Key("BACKOFF_CEILING").MustDuration(def.BackoffCeiling)

	if sec.HasKey("MAX_BATCH_BYTES") {
		v, err := humanize.ParseBytes(sec.Key("MAX_BATCH_BYTES").String())
		if err != nil {
			return q, fmt.Errorf("invalid [%s] MAX_BATCH_BYTES: %w", sec.Name(), err)
		}
		q.MaxBatchBytes = int64(v)
	}

	switch {
	case q.QueueLength <= 0:
		return q, fmt.Errorf("invalid [%s] QUEUE_LENGTH %d", sec.Name(), q.QueueLength)
	case q.MaxBatchCount <= 0:
		return q, fmt.Errorf("invalid [%s] MAX_BATCH_COUNT %d", sec.Name(), q.MaxBatchCount)
	case q.MaxBatchBytes <= 0:
		return q, fmt.Errorf("invalid [%s] MAX_BATCH_BYTES %d", sec.Name(), q.MaxBatchBytes)
	case q.MaxAttempts <= 0:
		return q, fmt.Errorf("invalid [%s] MAX_ATTEMPTS %d", sec.Name(), q.MaxAttempts)
	}
	if q.MaxInFlight <= 0 {
		q.MaxInFlight = 1
	}
	if q.BackoffCeiling < q.BackoffBase {
		q.BackoffCeiling = q.BackoffBase
	}
	return q, nil
}
