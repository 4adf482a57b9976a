// Command sitepack builds a static site into a minified, self-contained
// output tree.
//
// Usage:
//
//	sitepack build [--project DIR] [--watch] [--metrics-backend none|datadog] [-v]
//	sitepack refs [--external] FILE
//
// Logging:
//   - The base logger is created in run and passed to every component
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own "component" attribute
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sitepack/internal/build"
	"sitepack/internal/config"
	"sitepack/internal/inspect"
	"sitepack/internal/metrics"
	"sitepack/internal/metrics/datadog"
	"sitepack/internal/watch"
)

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func opErr(err error) error {
	return &exitError{code: 1, err: err}
}

// run is the testable entrypoint.
//
// Exit codes:
//   - 0 on success
//   - 1 when a build ran but some file failed, or on I/O errors
//   - 2 on invalid usage, unknown commands and missing or invalid
//     configuration
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "sitepack: %v\n", ee.err)
		return ee.code
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(stderr, "Command not found: %v\n", err)
		return 2
	}
	fmt.Fprintf(stderr, "sitepack: %v\n", err)
	return 2
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sitepack",
		Short:         "Minify and inline a static site into a self-contained bundle",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return usageErr("Command not found")
		},
	}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	cmd.AddCommand(newBuildCmd(stdout, stderr), newRefsCmd(stdout))
	return cmd
}

func newLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newBuildCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		project        string
		watchMode      bool
		metricsBackend string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the project into its output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger(cmd, stderr)

			p, err := config.Load(project)
			if err != nil {
				return usageErr("%w", err)
			}
			if cmd.Flags().Changed("metrics-backend") {
				p.Metrics.Backend = strings.ToLower(strings.TrimSpace(metricsBackend))
			}
			issues := config.Validate(p)
			for _, i := range issues {
				logger.Warn("config", "severity", string(i.Severity), "path", i.Path, "message", i.Message)
			}
			if config.HasErrors(issues) {
				return usageErr("invalid configuration in %s", p.Root)
			}

			stopMetrics := setupMetrics(ctx, p, logger)
			defer stopMetrics()

			b := build.New(p, logger)
			rep, err := b.Run(ctx)
			if err != nil {
				return opErr(err)
			}
			fmt.Fprintf(stdout, "Build finished in %d ms (%d files, %d failed)\n",
				rep.Duration.Milliseconds(), len(rep.Built), len(rep.Failed))
			for _, f := range rep.Failed {
				fmt.Fprintf(stderr, "failed: %v\n", f)
			}

			if watchMode {
				return runWatch(ctx, p, b, logger)
			}
			if !rep.OK() {
				return opErr(fmt.Errorf("%d file(s) failed", len(rep.Failed)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", ".", "project root containing config.json")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "rebuild files as they change")
	cmd.Flags().StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: none or datadog (default from SITEPACK_METRICS_BACKEND)")
	return cmd
}

// runWatch rebuilds changed files until ctx is cancelled. A rebuilt entry
// file is compressed again.
func runWatch(ctx context.Context, p *config.Project, b *build.Builder, logger *slog.Logger) error {
	entry := p.EntryPath()
	rebuild := func(ctx context.Context, path string) error {
		res, err := b.BuildFile(ctx, path)
		if err != nil {
			return err
		}
		if path == entry {
			if _, err := build.CompressEntry(res.Out, p.Build.Compress); err != nil {
				return err
			}
		}
		return nil
	}
	w := watch.New(p.Root, rebuild, b.Excluded, logger)
	if err := w.Run(ctx); err != nil {
		return opErr(err)
	}
	return nil
}

// setupMetrics installs the configured backend and returns its shutdown.
func setupMetrics(ctx context.Context, p *config.Project, logger *slog.Logger) func() {
	switch p.Metrics.Backend {
	case "datadog":
		tags := datadog.ParseTagsCSV(p.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{Tags: tags})
		if err != nil {
			logger.Warn("metrics: datadog init failed; using nop", "error", err)
			return func() {}
		}
		logger.Info("metrics enabled", "backend", "datadog", "tags", tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics: datadog close/flush error", "error", err)
			}
			metrics.SetBackend(nil)
		}
	default:
		logger.Debug("metrics disabled", "backend", p.Metrics.Backend)
		return func() {}
	}
}

func newRefsCmd(stdout io.Writer) *cobra.Command {
	var external bool
	cmd := &cobra.Command{
		Use:   "refs FILE",
		Short: "List the scripts, stylesheets and images an HTML file references",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return opErr(err)
			}
			list := inspect.References
			if external {
				list = inspect.Unresolved
			}
			refs, err := list(string(b))
			if err != nil {
				return opErr(err)
			}
			inspect.Print(stdout, refs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&external, "external", false, "only references that are not inlined")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
