// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/deadletter"
	"code.gitea.io/esbulk/modules/json"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func cmdDeadLetter() *cli.Command {
	return &cli.Command{
		Name:  "dead-letter",
		Usage: "Inspect or replay the incidents kept in the dead letter store",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the stored incidents, oldest first",
				Action: runDeadLetterList,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 50,
						Usage: "Maximum number of incidents to list, 0 lists all",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output one JSON incident per line",
					},
				},
			},
			{
				Name:   "replay",
				Usage:  "Submit the works of the stored incidents again",
				Action: runDeadLetterReplay,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 0,
						Usage: "Maximum number of incidents to replay, 0 replays all",
					},
					&cli.StringFlag{
						Name:  "queue",
						Value: "default",
						Usage: "Name of the queue used to send the works",
					},
					&cli.DurationFlag{
						Name:  "shutdown-timeout",
						Value: time.Minute,
						Usage: "How long to wait for the replayed works",
					},
				},
			},
		},
	}
}

func runDeadLetterList(ctx *cli.Context) error {
	if err := setup(); err != nil {
		return err
	}
	store, err := deadletter.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	incidents, err := store.List(ctx.Context, ctx.Int("limit"))
	if err != nil {
		return err
	}

	if ctx.Bool("json") {
		enc := json.NewEncoder(ctx.App.Writer)
		for _, incident := range incidents {
			if err := enc.Encode(incident); err != nil {
				return err
			}
		}
		return nil
	}

	total, err := store.Len(ctx.Context)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(ctx.App.Writer, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIME\tQUEUE\tKIND\tWORKS\tERROR")
	for _, incident := range incidents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", incident.ID, humanize.Time(incident.Time), incident.Queue, incident.Kind, len(incident.Works), incident.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(ctx.App.Writer, "%d of %d incidents\n", len(incidents), total)
	return nil
}

func runDeadLetterReplay(ctx *cli.Context) error {
	if err := setup(); err != nil {
		return err
	}
	// the works which fail again are reported to the same store
	p, err := newPipeline(ctx.Context, ctx.String("queue"), nil)
	if err != nil {
		return err
	}
	var completions []*bulk.Completion
	if p.store == nil {
		err = deadletter.ErrNoStore
	} else {
		completions, err = deadletter.Replay(ctx.Context, p.store, p.queue, ctx.Int("limit"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Context), ctx.Duration("shutdown-timeout"))
	defer cancel()
	if shutdownErr := p.shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}

	failed := 0
	for _, c := range completions {
		if _, waitErr := c.Wait(shutdownCtx); waitErr != nil {
			failed++
		}
	}
	_, _ = fmt.Fprintf(ctx.App.Writer, "%d works replayed, %d failed\n", len(completions), failed)
	return err
}
