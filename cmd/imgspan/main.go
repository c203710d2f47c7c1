package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"imgspan/config"
	"imgspan/convert"
	"imgspan/misc"
	"imgspan/state"
)

// initializeAppContext runs after command line is parsed and before any
// subcommand: it loads configuration and sets up logging and debug report.
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to prepare debug reporter: %w", err)
		}
		// effective configuration, secrets are masked by Dump
		name := "config/default.yaml"
		if len(configFile) > 0 {
			name = "config/" + filepath.Base(configFile)
		}
		if data, err := config.Dump(env.Cfg); err == nil {
			env.Rpt.StoreData(name, data)
		}
	}
	if env.Log, err = env.Cfg.Logging.Prepare(env.Rpt); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	env.Log.Debug("Program started",
		zap.Strings("args", os.Args),
		zap.String("ver", misc.GetVersion()),
		zap.String("runtime", runtime.Version()),
		zap.String("hash", misc.GetGitHash()),
		zap.Int64("memory_budget", env.MemoryBudget()))

	if env.Rpt != nil {
		env.Log.Info("Creating debug report", zap.String("location", env.Rpt.Name()))
	}
	if len(configFile) == 0 && env.Log != nil {
		env.Log.Info("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}

	env.RestoreStdLog()

	// log is synced and may go into report, from here on errors are only
	// returned
	if env.Rpt != nil {
		if er := env.Rpt.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close debug report: %w", er))
		}
	}
	// empty panic log is not worth keeping
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er))
			}
		}
	}
	return
}

// Subcommands return regular errors, cli.Exit is not used. errWasHandled is
// set when error already went to the log.
var errWasHandled bool

// exitErrHandler is called before application context is destroyed while
// log is still available.
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {

	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

// usageErrorHandler leaves reporting to exitErrHandler or main.
func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	if env := state.EnvFromContext(ctx); env.Log != nil {
		env.Log.Warn("Unknown command, nothing to do", zap.String("command", name))
		return
	}
	fmt.Fprintf(os.Stderr, "Unknown command %q, nothing to do\n", name)
}

const sourceHelp = `    locator of HTML document, following forms are supported:
        path to a file: "[path_to_file]page.html"
        file in archive: "[path_to_archive]archive.zip#[path_in_archive]page.html"
        URL: "https://example.com/page.html"
        data URI: "data:text/html,..."

	Relative image sources are resolved against document locator unless
	--base is specified.
`

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "base", Aliases: []string{"b"}, Usage: "resolve relative image sources against `LOCATOR` instead of SOURCE"},
		&cli.StringFlag{Name: "charset",
			Usage: "Force `ENCODING` of the source document (see IANA.org for character set names)"},
	}
}

func main() {

	// allow graceful shutdown on interrupt, network fetches are cancelled
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "resolves and embeds inline images of HTML documents",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "changes program behavior to help troubleshooting, produces report archive"},
		},
		Commands: []*cli.Command{
			{
				Name:         "resolve",
				Usage:        "Resolves images of HTML document and prints their placements",
				OnUsageError: usageErrorHandler,
				Action:       convert.Resolve,
				Flags:        sourceFlags(),
				ArgsUsage:    "SOURCE",
				CustomHelpTemplate: fmt.Sprintf(`%s
SOURCE:
%s
Prints every embedded image as "start end WxH image source" line followed
by decoded images cache summary.
`, cli.CommandHelpTemplate, sourceHelp),
			},
			{
				Name:         "render",
				Usage:        "Renders HTML document to XHTML or EPUB with images scaled to their placements",
				OnUsageError: usageErrorHandler,
				Action:       convert.Render,
				Flags: append(sourceFlags(),
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "continue even if destination exists, overwrite files"},
				),
				ArgsUsage: "SOURCE [DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(`%s
SOURCE:
%s
DESTINATION:
    path to resulting file or existing directory, if absent - current working
    directory. File with ".epub" extension gets EPUB book, anything else XHTML
    document with images stored next to it in directory specified by
    configuration. Documents created in directory get extension of configured
    container.
`, cli.CommandHelpTemplate, sourceHelp),
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Writes effective configuration: built-in defaults with configuration file
values applied on top. Proxy credentials are masked. To see defaults embedded
into the program use --default flag.
`, cli.CommandHelpTemplate),
			},
		},
	}

	var err error
	// os.Exit skips deferred calls, this must be the only one
	defer func() {
		stop()
		if err != nil {
			// log may be not ready yet or closed already
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

// outputConfiguration is "dumpconfig" subcommand action.
func outputConfiguration(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	var (
		data []byte
		kind = "actual"
	)
	if cmd.Bool("default") {
		kind = "default"
		data, err = config.Prepare()
	} else {
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	fname := cmd.Args().Get(0)
	if len(fname) == 0 {
		env.Log.Info("Writing configuration", zap.String("state", kind), zap.String("file", "STDOUT"))
		if _, err = cmd.Root().Writer.Write(data); err != nil {
			return fmt.Errorf("unable to write configuration: %w", err)
		}
		return nil
	}

	env.Log.Info("Writing configuration", zap.String("state", kind), zap.String("file", fname))
	out, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
	}
	defer func() {
		if er := out.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close destination file '%s': %w", fname, er))
		}
	}()
	if _, err = out.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
