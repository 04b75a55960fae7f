// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"

	"code.gitea.io/esbulk/modules/elasticsearch"
	"code.gitea.io/esbulk/modules/setting"

	"github.com/urfave/cli/v2"
)

func cmdPing() *cli.Command {
	return &cli.Command{
		Name:   "ping",
		Usage:  "Check the connection to the cluster and show the bulk dialect",
		Action: runPing,
	}
}

func runPing(ctx *cli.Context) error {
	if err := setup(); err != nil {
		return err
	}
	client, err := elasticsearch.NewClient()
	if err != nil {
		return err
	}
	info, err := client.Info(ctx.Context)
	if err != nil {
		return err
	}
	dialect, err := elasticsearch.ResolveDialect(ctx.Context, client, setting.Elasticsearch.Version)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(ctx.App.Writer, "%s (node %q)\nclient: %s\ndialect: %s\n", info, info.Name, setting.Elasticsearch.Client, dialect)
	return nil
}
