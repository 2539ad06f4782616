// Command asset-editor drives the image generation backend from a terminal:
// it generates, decomposes, edits and stylizes images through the editor
// core, exports the composite, and watches backend telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"asset_editor/apiclient"
	"asset_editor/core"
	"asset_editor/db"
	"asset_editor/editor"
	"asset_editor/logging"
	"asset_editor/shutdown"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app is everything a subcommand needs.
type app struct {
	cfg     *core.Config
	logger  *logging.Logger
	client  *apiclient.Client
	editor  *editor.Editor
	repo    *db.Repository // nil when the history database is unavailable
	history *db.AsyncWriter
	mgr     *shutdown.Manager
	out     *printer
}

type command struct {
	usage   string
	summary string
	run     func(a *app, args []string) error
}

var commands = map[string]command{
	"generate":  {"generate -prompt TEXT [flags]", "synthesise an image", cmdGenerate},
	"decompose": {"decompose [-layers N] IMAGE", "split an image into layers", cmdDecompose},
	"edit":      {"edit -prompt TEXT [-paint X,Y;...] IMAGE", "inpaint an image", cmdEdit},
	"stylize":   {"stylize -prompt TEXT [-canny] IMAGE", "restyle an image", cmdStylize},
	"health":    {"health", "show backend VRAM and loaded model", cmdHealth},
	"load":      {"load MODEL", "preload a model", cmdLoad},
	"eject":     {"eject", "offload the loaded model", cmdEject},
	"purge":     {"purge", "free all backend memory", cmdPurge},
	"watch":     {"watch [-duration D]", "stream telemetry and health", cmdWatch},
	"history":   {"history [-limit N] [-mode M] [-prune-days D]", "list recorded results", cmdHistory},
}

// usageError is reported with exit code 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// errBackendDown makes `health` exit with ExitCodeBackendDown.
var errBackendDown = errors.New("backend unavailable")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("asset-editor", flag.ContinueOnError)
	flags.SetOutput(stderr)
	envFile := flags.String("env", ".env", "environment file to load")
	flags.Usage = func() { printUsage(stderr, flags) }
	if err := flags.Parse(args); err != nil {
		return core.ExitCodeUsage
	}
	if flags.NArg() == 0 {
		printUsage(stderr, flags)
		return core.ExitCodeUsage
	}

	name := flags.Arg(0)
	if name == "version" {
		fmt.Fprintln(stdout, core.GetVersionInfo())
		return core.ExitCodeSuccess
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		printUsage(stderr, flags)
		return core.ExitCodeUsage
	}

	if err := godotenv.Load(*envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicitFlag(flags, "env") {
			fmt.Fprintln(stderr, core.ErrEnvFileMissing(*envFile))
			return core.ExitCodeError
		}
	}
	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return core.ExitCodeError
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(stderr, "failed to create data directories: %v\n", err)
		return core.ExitCodeError
	}

	a, err := setup(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return core.ExitCodeError
	}
	a.mgr.Start()

	err = a.mgr.Track(a.mgr.Context(), name, func(context.Context) error {
		return cmd.run(a, flags.Args()[1:])
	})
	code := exitCode(err)
	if err != nil && !errors.Is(err, errBackendDown) {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "%s\nusage: asset-editor %s\n", ue.msg, cmd.usage)
		} else if !editor.IsValidationError(err) && !errors.Is(err, context.Canceled) {
			a.out.fail(err.Error())
		}
	}

	if err := a.mgr.Shutdown(); err != nil {
		fmt.Fprintf(stderr, "shutdown: %v\n", err)
	}
	return a.mgr.ExitCode(code)
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return core.ExitCodeSuccess
	case errors.As(err, &ue):
		return core.ExitCodeUsage
	case errors.Is(err, errBackendDown):
		return core.ExitCodeBackendDown
	default:
		return core.ExitCodeError
	}
}

// setup builds the logger, backend client, history store and editor, and
// registers their cleanup with the shutdown manager.
func setup(cfg *core.Config, stdout, stderr io.Writer) (*app, error) {
	level := logging.ParseLogLevelString(cfg.LogLevel, zapcore.InfoLevel)
	logPath := cfg.LogFile
	if logPath != "" && !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cfg.DataDir, logPath)
	}
	logger, err := logging.NewLogger(logging.Options{
		Development: cfg.DevMode,
		Level:       &level,
		FilePath:    logPath,
		Console:     stderr,
	})
	if err != nil {
		return nil, err
	}
	zl := logger.Zap()

	catalog, err := core.LoadModelCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return nil, err
	}
	client, err := apiclient.New(cfg.BackendURL,
		apiclient.WithHTTPClient(core.GetDefaultHTTPClient(cfg)),
		apiclient.WithLogger(zl))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		client: client,
		mgr:    shutdown.NewManager(zl),
		out:    newPrinter(stdout),
	}

	// History is best effort; commands still run without it.
	var recorder db.Recorder
	if database, err := db.Open(cfg.DatabasePath, zl); err != nil {
		logger.Warn("history disabled", zap.String("path", cfg.DatabasePath), zap.Error(err))
	} else {
		a.repo = db.NewRepository(database)
		a.history = db.NewAsyncWriter(a.repo, db.DefaultChannelCapacity, zl)
		recorder = a.history
		a.mgr.Register("history", shutdown.PriorityHistory, a.history.Close)
		a.mgr.Register("database", shutdown.PriorityDatabase, func(context.Context) error {
			return database.Close()
		})
	}

	a.editor = editor.New(client, client, editor.Options{
		Catalog:             catalog,
		History:             recorder,
		StatusHideDelay:     cfg.StatusHideDelay,
		ModeSwitchDelay:     cfg.ModeSwitchDelay,
		DefaultModelVariant: cfg.DefaultModel,
		DecomposeResolution: cfg.DecomposeRes,
		OnStatus:            a.out.status,
		Logger:              zl,
	})
	a.editor.Store().Dispatch(vramBudget(cfg.VRAMBudgetGB))
	a.editor.Store().Dispatch(guidance(cfg.GuidanceScale))
	a.editor.Store().Dispatch(steps(cfg.InferenceSteps))

	a.mgr.Register("editor", shutdown.PriorityTelemetry, func(context.Context) error {
		a.editor.Close()
		return nil
	})
	a.mgr.Register("exports", shutdown.PriorityExports, shutdown.SweepPartialExports(zl, cfg.OutputDir))
	a.mgr.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		// Syncing a console attached to a terminal fails harmlessly.
		_ = logger.Sync()
		return nil
	})

	logger.Debug("configuration loaded",
		zap.String("backend", cfg.BackendURL),
		zap.String("telemetry", cfg.TelemetryEndpoint()),
		zap.Float64("vram_budget_gb", cfg.VRAMBudgetGB),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("database", cfg.DatabasePath))
	return a, nil
}

func explicitFlag(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "usage: asset-editor [-env FILE] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "version", "print build information")
	fmt.Fprintln(w)
	flags.PrintDefaults()
}
