// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Elasticsearch client types
const (
	ElasticsearchClientESAPI   = "esapi"
	ElasticsearchClientOlivere = "olivere"
)

// Elasticsearch represents the connection settings of the cluster
var Elasticsearch = struct {
	URL              string
	User             string
	Passwd           string
	Client           string
	Version          string // "auto" or a major version, eg: "7"
	CompressionLevel int
	Timeout          time.Duration
}{
	URL:              "http://127.0.0.1:9200",
	Client:           ElasticsearchClientESAPI,
	Version:          "auto",
	CompressionLevel: gzip.NoCompression,
	Timeout:          30 * time.Second,
}

func loadElasticsearchFrom(rootCfg ConfigProvider) error {
	sec := rootCfg.Section("elasticsearch")
	Elasticsearch.URL = sec.Key("URL").MustString("http://127.0.0.1:9200")
	Elasticsearch.User = sec.Key("USER").MustString("")
	Elasticsearch.Passwd = sec.Key("PASSWD").MustString("")
	Elasticsearch.Client = sec.Key("CLIENT").In(ElasticsearchClientESAPI, []string{ElasticsearchClientESAPI, ElasticsearchClientOlivere})
	Elasticsearch.Version = sec.Key("VERSION").MustString("auto")
	Elasticsearch.CompressionLevel = sec.Key("COMPRESSION_LEVEL").MustInt(gzip.NoCompression)
	Elasticsearch.Timeout = sec.Key("TIMEOUT").MustDuration(30 * time.Second)

	if Elasticsearch.CompressionLevel < gzip.HuffmanOnly || Elasticsearch.CompressionLevel > gzip.BestCompression {
		return fmt.Errorf("invalid [elasticsearch] COMPRESSION_LEVEL %d", Elasticsearch.CompressionLevel)
	}
	return nil
}
