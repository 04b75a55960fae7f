// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"code.gitea.io/esbulk/modules/log"
	"code.gitea.io/esbulk/modules/setting"

	"github.com/urfave/cli/v2"
)

type AppVersion struct {
	Version string
	Extra   string
}

func appGlobalFlags() []cli.Flag {
	return []cli.Flag{
		// shared configuration flags, they are for global and for each sub-command at the same time
		// eg: such command is valid: "./esbulk --config /tmp/esbulk.ini index --config /tmp/esbulk.ini"
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   setting.CustomConf,
			Usage:   "Set custom config file (defaults to 'custom/conf/esbulk.ini')",
		},
	}
}

func prepareSubcommandWithConfig(command *cli.Command, globalFlags []cli.Flag) {
	command.Flags = append(append([]cli.Flag{}, globalFlags...), command.Flags...)
	if command.Action != nil {
		command.Action = prepareCustomConf(command.Action)
	}
	for _, sub := range command.Subcommands {
		prepareSubcommandWithConfig(sub, globalFlags)
	}
}

// prepareCustomConf wraps the Action to take the config file from the nearest --config flag
func prepareCustomConf(action cli.ActionFunc) func(ctx *cli.Context) error {
	return func(ctx *cli.Context) error {
		// from children to parent, check the global flags
		for _, curCtx := range ctx.Lineage() {
			if curCtx.IsSet("config") {
				setting.CustomConf = curCtx.String("config")
				break
			}
		}
		return action(ctx)
	}
}

// setup loads the config file and replaces the console logger with the configured one
func setup() error {
	if err := setting.LoadSettings(); err != nil {
		return fmt.Errorf("unable to load the config file %q: %w", setting.CustomConf, err)
	}
	setting.InitLoggers()
	return nil
}

func NewMainApp(appVer AppVersion) *cli.App {
	app := cli.NewApp()
	app.Name = "esbulk"
	app.Usage = "Bulk indexing pipeline for Elasticsearch"
	app.Description = `esbulk queues indexing works and sends them to the cluster as bulk requests, retrying transient failures.`
	app.Version = appVer.Version + appVer.Extra
	app.EnableBashCompletion = true

	subCmdWithConfig := []*cli.Command{
		cmdIndex(),
		cmdServe(),
		cmdPing(),
		cmdDeadLetter(),
	}

	globalFlags := appGlobalFlags()
	app.Flags = append(app.Flags, globalFlags...)
	for i := range subCmdWithConfig {
		prepareSubcommandWithConfig(subCmdWithConfig[i], globalFlags)
	}
	app.Commands = append(app.Commands, subCmdWithConfig...)
	return app
}

func RunMainApp(app *cli.App, args ...string) error {
	ctx, cancel := installSignals()
	defer cancel()
	return runMainAppContext(ctx, app, args...)
}

// runMainAppContext runs the app until ctx is done, long running commands stop with it
func runMainAppContext(ctx context.Context, app *cli.App, args ...string) error {
	err := app.RunContext(ctx, args)
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "flag provided but not defined:") {
		// the cli package should already have output the error message, so just exit
		cli.OsExiter(1)
		return err
	}
	_, _ = fmt.Fprintf(app.ErrWriter, "Command error: %v\n", err)
	cli.OsExiter(1)
	return err
}

func installSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// install notify
		signalChannel := make(chan os.Signal, 1)

		signal.Notify(
			signalChannel,
			syscall.SIGINT,
			syscall.SIGTERM,
		)
		select {
		case sig := <-signalChannel:
			log.Info("Received %v, shutting down", sig)
		case <-ctx.Done():
		}
		cancel()
		signal.Reset()
	}()

	return ctx, cancel
}
