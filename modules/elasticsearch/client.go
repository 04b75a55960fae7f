// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package elasticsearch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/json"
	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"

	goversion "github.com/hashicorp/go-version"
)

// Client is a connection to the cluster which can send bulk requests and run index-wide works
type Client interface {
	bulk.Transport
	bulk.IndexAdmin
	Info(ctx context.Context) (*ClusterInfo, error)
}

var (
	_ Client = &ESAPIClient{}
	_ Client = &OlivereClient{}
)

// NewClient creates the client configured in [elasticsearch]
func NewClient() (Client, error) {
	cfg := setting.Elasticsearch
	switch cfg.Client {
	case setting.ElasticsearchClientOlivere:
		return NewOlivereClient(cfg.URL, cfg.User, cfg.Passwd, cfg.CompressionLevel, cfg.Timeout)
	default:
		return NewESAPIClient(cfg.URL, cfg.User, cfg.Passwd, cfg.CompressionLevel, cfg.Timeout)
	}
}

// ClusterInfo is the answer of the root endpoint of a node
type ClusterInfo struct {
	Name         string
	ClusterName  string
	Distribution string
	Number       string
	Major        int
}

// Dialect returns the bulk dialect spoken by the cluster
func (i *ClusterInfo) Dialect() (*bulk.Dialect, error) {
	return bulk.DialectFor(i.Distribution, i.Major)
}

func (i *ClusterInfo) String() string {
	return fmt.Sprintf("%s %s (cluster %q)", i.Distribution, i.Number, i.ClusterName)
}

type rootInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number       string `json:"number"`
		Distribution string `json:"distribution"`
	} `json:"version"`
}

func parseClusterInfo(r io.Reader) (*ClusterInfo, error) {
	var root rootInfo
	if err := json.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("unable to decode cluster info: %w", err)
	}
	if root.Version.Number == "" {
		return nil, fmt.Errorf("cluster info has no version")
	}

	v, err := goversion.NewVersion(root.Version.Number)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", root.Version.Number, err)
	}
	info := &ClusterInfo{
		Name:         root.Name,
		ClusterName:  root.ClusterName,
		Distribution: root.Version.Distribution,
		Number:       root.Version.Number,
		Major:        v.Segments()[0],
	}
	if info.Distribution == "" {
		info.Distribution = bulk.DistributionElasticsearch
	}
	if _, err := info.Dialect(); err != nil {
		return nil, err
	}
	return info, nil
}

// parseVersionSetting parses VERSION values like "7", "elasticsearch-6" or "opensearch-2"
func parseVersionSetting(version string) (distribution string, major int, err error) {
	distribution = bulk.DistributionElasticsearch
	v := strings.ToLower(strings.TrimSpace(version))
	if d, m, ok := strings.Cut(v, "-"); ok {
		distribution, v = d, m
	}
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return "", 0, fmt.Errorf("invalid [elasticsearch] VERSION %q", version)
	}
	return distribution, parsed.Segments()[0], nil
}

// ResolveDialect returns the dialect for the VERSION setting, "auto" asks the cluster
func ResolveDialect(ctx context.Context, c Client, version string) (*bulk.Dialect, error) {
	if version != "" && !strings.EqualFold(version, "auto") {
		distribution, major, err := parseVersionSetting(version)
		if err != nil {
			return nil, err
		}
		return bulk.DialectFor(distribution, major)
	}

	info, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to detect the cluster version: %w", err)
	}
	log.Info("Connected to %s", info)
	return info.Dialect()
}
