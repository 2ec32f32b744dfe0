// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/attic-labs/kingpin"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dolthub/deltalog/libraries/tablecfg"
	"github.com/dolthub/deltalog/store/table"
	"github.com/dolthub/deltalog/store/vacuum"
)

const (
	exitOK              = 0
	exitError           = 1
	exitRetentionSafety = 2
)

// nowFunc stamps commits and vacuum thresholds.
var nowFunc = time.Now

// handler runs a parsed command against an open table.
type handler func(ctx context.Context, e *env) error

// kingpinCommand declares a command and its flags and returns the handler that runs it.
type kingpinCommand func(app *kingpin.Application) (*kingpin.CmdClause, handler)

var kingpinCommands = []kingpinCommand{
	vacuumCommand,
	logCommand,
	stateCommand,
	checkpointCommand,
	commitCommand,
}

// env is what every handler runs with.
type env struct {
	cfg    *tablecfg.Config
	tbl    *table.Table
	lgr    *logrus.Entry
	stdout io.Writer
	stderr io.Writer
}

type globalFlags struct {
	table       *string
	config      *string
	verbose     *bool
	logFormat   *string
	metricsFile *string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := kingpin.New("deltalog", "Inspects, writes and vacuums transaction logged tables.")
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	app.HelpFlag.Short('h')

	gf := globalFlags{
		table:       app.Flag("table", "table url: a local path, file://, mem://, s3://, gs://, az:// or oss://").String(),
		config:      app.Flag("config", "yaml config file").Short('c').String(),
		verbose:     app.Flag("verbose", "log debug output").Short('v').Bool(),
		logFormat:   app.Flag("log-format", "log format").Enum(tablecfg.LogFormatText, tablecfg.LogFormatJSON),
		metricsFile: app.Flag("metrics-file", "write prometheus metrics of the run to this file").String(),
	}

	handlers := make(map[string]handler)
	for _, cmdFunc := range kingpinCommands {
		cmd, h := cmdFunc(app)
		handlers[cmd.FullCommand()] = h
	}

	input, err := app.Parse(args)
	if err != nil {
		printError(stderr, err)
		return exitError
	}

	h := handlers[strings.Split(input, " ")[0]]
	if h == nil {
		printError(stderr, fmt.Errorf("unknown command %s", input))
		return exitError
	}

	return exitCode(execute(ctx, gf, h, stdout, stderr), stderr)
}

func execute(ctx context.Context, gf globalFlags, h handler, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}

	lgr, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	lgr.SetOutput(stderr)
	entry := logrus.NewEntry(lgr)

	if cfg.Table == "" {
		return fmt.Errorf("no table given: pass --table or set table in the config file")
	}

	reg := prometheus.NewRegistry()
	var registerer prometheus.Registerer = reg
	if len(cfg.Metrics.Labels) > 0 {
		registerer = prometheus.WrapRegistererWith(cfg.Metrics.Labels, reg)
	}

	commitCfg := cfg.ToCommitConfig()
	tbl, err := table.Open(ctx, cfg.Table, table.Options{
		Storage:     cfg.OpenOptions(),
		DynamoTable: cfg.Storage.DynamoTable,
		Commit:      &commitCfg,
		Now:         nowFunc,
		Logger:      entry,
		Registerer:  registerer,
	})
	if err != nil {
		return err
	}

	err = h(ctx, &env{cfg: cfg, tbl: tbl, lgr: entry, stdout: stdout, stderr: stderr})

	if cfg.Metrics.File != "" {
		if werr := prometheus.WriteToTextfile(cfg.Metrics.File, reg); werr != nil {
			entry.Warnf("deltalog: unable to write metrics to %s: %v", cfg.Metrics.File, werr)
		}
	}
	return err
}

// loadConfig reads the config file, if any, and applies the global flags over it.
func loadConfig(gf globalFlags) (*tablecfg.Config, error) {
	cfg := tablecfg.Default()
	if *gf.config != "" {
		var err error
		cfg, err = tablecfg.Load(*gf.config)
		if err != nil {
			return nil, err
		}
	}

	if *gf.table != "" {
		cfg.Table = *gf.table
	}
	if *gf.verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if *gf.logFormat != "" {
		cfg.LogFormat = *gf.logFormat
	}
	if *gf.metricsFile != "" {
		cfg.Metrics.File = *gf.metricsFile
	}
	return cfg, nil
}

// exitCode reports |err| and returns the process exit code for it.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	printError(stderr, err)
	if vacuum.ErrRetentionSafety.Is(err) {
		return exitRetentionSafety
	}
	return exitError
}

func printError(w io.Writer, err error) {
	color.New(color.FgRed).Fprintf(w, "error: %v\n", err)
}
