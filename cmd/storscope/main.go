// storscope reports how a data file uses its space: per-extent record
// accounting, page residency and index tree statistics.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xtxerr/storscope/internal/config"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/handler"
	"github.com/xtxerr/storscope/internal/logging"
	"github.com/xtxerr/storscope/internal/metrics"
	"github.com/xtxerr/storscope/internal/report"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.finish()
	if err != nil {
		fmt.Fprintf(stderr, "storscope: %v\n", err)
	}
	return errors.ErrorToCode(err)
}

// =============================================================================
// Application State
// =============================================================================

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	configPath  string
	format      string
	logLevel    string
	logJSON     bool
	metricsFile string
}

// app carries what every command needs once the root command has set up
// config, logging and metrics.
type app struct {
	flags globalFlags

	cfg     *config.Config
	metrics *metrics.Metrics

	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "storscope",
		Short:   "Inspect the space usage of a data file",
		Version: Version,
		Long: `storscope walks the extents, records and index trees of a data file
and reports how densely they use their space, how much of them is resident
in memory, and how the index trees are shaped.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file path")
	pf.StringVarP(&a.flags.format, "format", "o", "", "output format: json, yaml, bson, extjson, proto, text")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (overrides config)")
	pf.BoolVar(&a.flags.logJSON, "log-json", false, "log as JSON")
	pf.StringVar(&a.flags.metricsFile, "metrics-file", "", "write prometheus textfile metrics here after the command")

	root.AddCommand(a.commands()...)
	root.AddCommand(a.shellCmd())
	return root
}

// commands returns the analysis and utility commands. The shell builds a
// fresh set for every input line.
func (a *app) commands() []*cobra.Command {
	return []*cobra.Command{
		a.diskCmd(),
		a.memCmd(),
		a.indexCmd(),
		a.exportCmd(),
		a.queryCmd(),
		a.genCmd(),
		a.catCmd(),
	}
}

// setup loads the config and applies the global flags on top of it.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.logJSON {
		cfg.Logging.JSON = true
	}
	if a.flags.metricsFile != "" {
		cfg.Metrics.Textfile = a.flags.metricsFile
	}

	logging.InitWriter(a.stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	a.cfg = cfg
	a.metrics = metrics.New()

	logging.Debug("storscope starting", "version", Version, "command", cmd.Name())
	return nil
}

// finish writes the metrics textfile when one is configured.
func (a *app) finish() {
	if a.cfg == nil || a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		logging.Warn("write metrics textfile", "path", a.cfg.Metrics.Textfile, "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// withHandler opens path, runs fn with a handler on it and closes the file.
func (a *app) withHandler(path string, fn func(*handler.Handler) error) error {
	f, err := datafile.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(handler.New(f, a.cfg, a.metrics))
}

// outputFormat resolves the encoding for stdout.
func (a *app) outputFormat() (report.Format, error) {
	tty := isTerminal(a.stdout)
	f, err := report.ResolveFormat(a.flags.format, a.cfg.Output.Format, tty)
	if err != nil {
		return "", err
	}
	if tty && f.Binary() {
		return "", errors.NewInvalidValue("format", string(f), "refusing to write binary output to a terminal")
	}
	return f, nil
}

// emit writes v and passes err through. A report that came back with a
// partial error is still written; a proto stream gets an error record in
// place of a missing report.
func (a *app) emit(v any, err error) error {
	f, ferr := a.outputFormat()
	if ferr != nil {
		return ferr
	}
	if isNil(v) {
		if err != nil && f == report.FormatProto {
			if werr := report.Encode(a.stdout, f, report.NewErrorReport(err)); werr != nil {
				logging.Warn("write error report", "error", werr)
			}
		}
		return err
	}
	if werr := report.Encode(a.stdout, f, v); werr != nil {
		return errors.Join(err, werr)
	}
	if err != nil && errors.IsPartial(err) {
		logging.Warn("report is partial", "error", err)
	}
	return err
}

func isNil(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case *report.Disk:
		return r == nil
	case *report.DiskSet:
		return r == nil
	case *report.Mem:
		return r == nil
	case *report.MemSet:
		return r == nil
	case *report.Index:
		return r == nil
	case *report.Table:
		return r == nil
	case *handler.ExportResult:
		return r == nil
	}
	return false
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
