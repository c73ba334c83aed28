// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/odatabatch/internal/config"
	"gitlab.com/accumulatenetwork/odatabatch/internal/logging"
	"gitlab.com/accumulatenetwork/odatabatch/internal/metrics"
	cmdutil "gitlab.com/accumulatenetwork/odatabatch/internal/util/cmd"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var cmdMain = &cobra.Command{
	Use:   "batchdump [flags] <file>...",
	Short: "Print the structure of OData batch payloads",
	Long: "Print the parts of each batch payload. A file name of - reads standard input.\n" +
		"With --save-config the effective configuration is written and files are optional.",
	Args: cobra.ArbitraryArgs,
	Run:   run,
}

var flagMain struct {
	Config      string
	ContentType string
	Responses   bool
	BufferSize  int
	LogLevel    string
	LogFormat   string
	Metrics     bool
	Jobs        int
	SaveConfig  string
}

func init() {
	cmdMain.Flags().StringVarP(&flagMain.Config, "config", "c", "", "Configuration file (toml, yaml or json)")
	cmdMain.Flags().StringVarP(&flagMain.ContentType, "content-type", "t", "", "Content-Type of the batch, including the boundary")
	cmdMain.Flags().BoolVar(&flagMain.Responses, "responses", false, "Parse operations as HTTP responses")
	cmdMain.Flags().IntVar(&flagMain.BufferSize, "buffer-size", 0, "Scan buffer capacity in bytes")
	cmdMain.Flags().StringVar(&flagMain.LogLevel, "log-level", "", "Log levels, for example error;scan=debug")
	cmdMain.Flags().StringVar(&flagMain.LogFormat, "log-format", "", "Log format (plain, text or json)")
	cmdMain.Flags().BoolVar(&flagMain.Metrics, "metrics", false, "Print reader metrics when done")
	cmdMain.Flags().IntVarP(&flagMain.Jobs, "jobs", "j", runtime.NumCPU(), "Number of payloads to read in parallel")
	cmdMain.Flags().StringVar(&flagMain.SaveConfig, "save-config", "", "Write the effective configuration to a file (toml, yaml or json)")
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		os.Exit(cmdutil.ExitUsage)
	}
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := config.Resolve(flagMain.Config, overrides(cmd))
	cmdutil.Check(err)

	if flagMain.SaveConfig != "" {
		cmdutil.Check(cfg.SaveTo(flagMain.SaveConfig))
		if len(args) == 0 {
			return
		}
	}
	if len(args) == 0 {
		cmdutil.Check(errors.BadRequest.With("no input files"))
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	cmdutil.Checkf(err, "logging")

	opts := cfg.ReaderOptions()
	opts.Logger = logger

	var rec *metrics.Recorder
	if flagMain.Metrics {
		rec = metrics.New()
		opts.Observer = rec
	}

	err = dumpAll(cmd.Context(), cmd.OutOrStdout(), args, flagMain.Jobs, cfg.Reader.ContentType, opts, rec)
	if rec != nil {
		cmdutil.Checkf(rec.WriteText(cmd.ErrOrStderr()), "metrics")
	}
	cmdutil.Check(err)
}

// overrides returns the flags that were set explicitly.
func overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("content-type") {
		o.ContentType = &flagMain.ContentType
	}
	if flags.Changed("responses") {
		o.Responses = &flagMain.Responses
	}
	if flags.Changed("buffer-size") {
		o.BufferSize = &flagMain.BufferSize
	}
	if flags.Changed("log-level") {
		o.LogLevel = &flagMain.LogLevel
	}
	if flags.Changed("log-format") {
		o.LogFormat = &flagMain.LogFormat
	}
	return o
}

// dumpAll dumps each file in parallel and prints the results in order. Output
// stops at the first file that fails.
func dumpAll(ctx context.Context, w io.Writer, files []string, jobs int, contentType string, opts batch.Options, rec *metrics.Recorder) error {
	if ctx == nil {
		ctx = context.Background()
	}

	out := make([]bytes.Buffer, len(files))
	errs := make([]error, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, file := range files {
		g.Go(func() error {
			errs[i] = dumpFile(ctx, &out[i], file, contentType, opts)
			if rec != nil {
				rec.Finished(errs[i])
			}
			return errs[i]
		})
	}
	_ = g.Wait()

	for i := range files {
		_, err := out[i].WriteTo(w)
		if err != nil {
			return err
		}
		if errs[i] != nil && !errors.Is(errs[i], context.Canceled) {
			return errs[i]
		}
	}
	return nil
}

func dumpFile(ctx context.Context, w io.Writer, file, contentType string, opts batch.Options) error {
	var src io.Reader
	if file == "-" {
		src = os.Stdin
	} else {
		f, err := os.Open(file)
		if err != nil {
			return errors.BadRequest.WithFormat("%s: %w", file, err)
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	ctx = logging.With(ctx, "file", file)
	err := dump(ctx, w, file, src, contentType, opts)
	if err != nil {
		return errors.UnknownError.WithFormat("%s: %w", file, err)
	}
	return nil
}
