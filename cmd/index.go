// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"code.gitea.io/esbulk/modules/bulk"
	"code.gitea.io/esbulk/modules/log"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func cmdIndex() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Send the works of a NDJSON file to the cluster",
		Description: `Every line of the input is one work, eg:
{"kind":"index","index":"books","id":"1","payload":{"title":"Dune"}}
{"kind":"delete","index":"books","id":"2"}
{"kind":"refresh","index":"books"}`,
		Action: runIndex,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Value:   "-",
				Usage:   "NDJSON file of works, - reads the standard input",
			},
			&cli.IntFlag{
				Name:  "workers",
				Value: 4,
				Usage: "Number of concurrent submitters",
			},
			&cli.StringFlag{
				Name:  "queue",
				Value: "default",
				Usage: "Name of the queue, its settings are read from [bulk.<name>]",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: time.Minute,
				Usage: "How long to wait for the queue to flush once the input is read",
			},
		},
	}
}

// submitter is the part of *bulk.Orchestrator the index command needs
type submitter interface {
	Submit(ctx context.Context, w bulk.Work) (*bulk.Completion, error)
	Flush(ctx context.Context) error
}

type indexSummary struct {
	Submitted    int
	Succeeded    int
	Failed       int
	Retries      int
	InvalidLines int
}

func (s *indexSummary) String() string {
	return fmt.Sprintf("%d works submitted: %d succeeded, %d failed, %d retries, %d invalid lines",
		s.Submitted, s.Succeeded, s.Failed, s.Retries, s.InvalidLines)
}

// indexWorks submits every work read from r with the given number of workers,
// flushes the queue and waits for all the outcomes
func indexWorks(ctx context.Context, r io.Reader, q submitter, workers int) (*indexSummary, error) {
	if workers <= 0 {
		workers = 1
	}
	summary := &indexSummary{}
	works := make(chan bulk.Work)
	completions := make(chan *bulk.Completion, workers)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(works)
		reader := bulk.NewWorkReader(r)
		for {
			w, err := reader.Next()
			if err == io.EOF {
				return nil
			}
			var lineErr *bulk.LineError
			if errors.As(err, &lineErr) {
				log.Warn("Skip %v", lineErr)
				summary.InvalidLines++
				continue
			} else if err != nil {
				return err
			}
			select {
			case works <- w:
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
	})

	submitters, sCtx := errgroup.WithContext(gCtx)
	for i := 0; i < workers; i++ {
		submitters.Go(func() error {
			for w := range works {
				if sCtx.Err() != nil {
					return sCtx.Err()
				}
				c, err := q.Submit(sCtx, w)
				if err != nil {
					return fmt.Errorf("unable to submit %s of %q: %w", w.Kind, w.Key(), err)
				}
				completions <- c
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(completions)
		return submitters.Wait()
	})

	var pending []*bulk.Completion
	for c := range completions {
		pending = append(pending, c)
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if err := q.Flush(ctx); err != nil {
		return summary, err
	}
	for _, c := range pending {
		summary.Submitted++
		_, err := c.Wait(ctx)
		if err != nil {
			summary.Failed++
			log.Debug("Work failed: %v", err)
		} else {
			summary.Succeeded++
		}
		summary.Retries += c.Retries()
	}
	return summary, nil
}

func runIndex(ctx *cli.Context) error {
	if err := setup(); err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if file := ctx.String("file"); file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	p, err := newPipeline(ctx.Context, ctx.String("queue"), nil)
	if err != nil {
		return err
	}

	summary, err := indexWorks(ctx.Context, in, p.queue, ctx.Int("workers"))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Context), ctx.Duration("shutdown-timeout"))
	defer cancel()
	if shutdownErr := p.shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}

	_, _ = fmt.Fprintln(ctx.App.Writer, summary)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d works failed", summary.Failed)
	}
	return nil
}
