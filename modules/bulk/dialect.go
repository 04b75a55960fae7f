// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"fmt"
)

// Distributions of the search cluster
const (
	DistributionElasticsearch = "elasticsearch"
	DistributionOpenSearch    = "opensearch"
)

// Dialect holds the differences of the bulk metadata between cluster versions
type Dialect struct {
	Name                 string
	TypeName             string // mapping type, empty for typeless clusters
	RoutingField         string
	RetryOnConflictField string
}

var (
	dialectES5 = &Dialect{
		Name:                 "elasticsearch-5",
		TypeName:             "doc",
		RoutingField:         "_routing",
		RetryOnConflictField: "_retry_on_conflict",
	}
	dialectES6 = &Dialect{
		Name:                 "elasticsearch-6",
		TypeName:             "_doc",
		RoutingField:         "routing",
		RetryOnConflictField: "retry_on_conflict",
	}
	dialectES7 = &Dialect{
		Name:                 "elasticsearch-7",
		RoutingField:         "routing",
		RetryOnConflictField: "retry_on_conflict",
	}
	dialectES8 = &Dialect{
		Name:                 "elasticsearch-8",
		RoutingField:         "routing",
		RetryOnConflictField: "retry_on_conflict",
	}
	dialectOpenSearch = &Dialect{
		Name:                 "opensearch",
		RoutingField:         "routing",
		RetryOnConflictField: "retry_on_conflict",
	}

	elasticsearchDialects = map[int]*Dialect{
		5: dialectES5,
		6: dialectES6,
		7: dialectES7,
		8: dialectES8,
	}
)

// DefaultDialect is used when the cluster version is not known
var DefaultDialect = dialectES8

// DialectFor returns the dialect of a cluster by its distribution and major version
func DialectFor(distribution string, major int) (*Dialect, error) {
	switch distribution {
	case DistributionOpenSearch:
		if major < 1 {
			return nil, fmt.Errorf("unsupported OpenSearch version %d", major)
		}
		return dialectOpenSearch, nil
	case DistributionElasticsearch, "":
		if d, ok := elasticsearchDialects[major]; ok {
			return d, nil
		}
		if major > 8 {
			// newer majors keep the typeless format
			return dialectES8, nil
		}
		return nil, fmt.Errorf("unsupported Elasticsearch version %d", major)
	}
	return nil, fmt.Errorf("unknown distribution %q", distribution)
}

func (d *Dialect) String() string {
	return d.Name
}
