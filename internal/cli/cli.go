// Package cli implements the ubuild command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"

	"ubuild/internal/config"
	"ubuild/internal/console"
	"ubuild/internal/execx"
)

// Set through -ldflags at release time.
var (
	version   = "dev"
	buildDate = "unknown"
)

type cmdInfo struct {
	Cmd  string
	Args string
	Desc string
}

var commands = []cmdInfo{
	{"configure", "[options]", "Probe the host and save the build options"},
	{"build", "[-j N] [--progress]", "Build uprocd, its modules and docs"},
	{"install", "[--destdir D]", "Install the last build (runs the service hooks)"},
	{"pre_install", "", "Stop uprocd services when auto_service is set"},
	{"post_install", "", "Reload systemd units when auto_service is set"},
	{"manifest", "", "Show what install would copy where"},
	{"dist", "[--format zst|gz|xz] [-o FILE]", "Pack the last build into a tarball"},
	{"watch", "[-j N]", "Rebuild whenever the source tree changes"},
	{"cache", "stats|clean|push|pull", "Inspect, clear or mirror the task cache"},
	{"gen-modules", "[--url URL] [-o FILE]", "Regenerate the Python module's import list"},
	{"version", "", "Version information"},
	{"help", "", "Show this help"},
}

// printHelp prints the commands table.
func printHelp(w io.Writer) {
	fmt.Fprintln(w, color.Info.Sprint("Usage: ubuild <command> [arguments]"))
	fmt.Fprintln(w, "Run 'ubuild <command> -h' for the command's options")
	fmt.Fprintln(w)
	fmt.Fprintln(w, color.Info.Sprint("Available Commands:"))

	width := 0
	for _, c := range commands {
		n := len(c.Cmd)
		if c.Args != "" {
			n += len(c.Args) + 1
		}
		width = max(width, n)
	}
	width += 4

	for _, c := range commands {
		usage := c.Cmd
		styled := color.Bold.Sprint(c.Cmd)
		if c.Args != "" {
			usage += " " + c.Args
			styled += " " + color.Cyan.Sprint(c.Args)
		}
		pad := max(width-len(usage), 1)
		fmt.Fprintf(w, "  %s%s%s\n", styled, strings.Repeat(" ", pad), color.Info.Sprint(c.Desc))
	}
	fmt.Fprintln(w)
}

// app carries what every command shares.
type app struct {
	log     *console.Logger
	exec    *execx.Executor
	environ []string
	debug   bool
}

// Main is the entry point of the ubuild binary.
func Main() {
	os.Exit(Run(os.Args[1:], os.Environ()))
}

// Run executes one command line and returns the process exit code.
func Run(args, environ []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel)

	debug := envBool(environ, "UBUILD_DEBUG")
	console.SetColor(!envBool(environ, "NO_COLOR"))
	a := &app{
		log:     console.New(os.Stdout, debug),
		exec:    execx.NewExecutor(os.Stdout, os.Stderr),
		environ: environ,
		debug:   debug,
	}

	if len(args) == 0 {
		printHelp(os.Stdout)
		return 0
	}
	if err := a.dispatch(ctx, args[0], args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		a.log.Error("%v", err)
		return 1
	}
	return 0
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "configure":
		return a.configure(ctx, args)
	case "build", "b":
		return a.build(ctx, args)
	case "install", "i":
		return a.install(ctx, args)
	case "pre_install":
		return a.hook(ctx, "pre_install", args)
	case "post_install":
		return a.hook(ctx, "post_install", args)
	case "manifest", "m":
		return a.manifest(args)
	case "dist":
		return a.dist(args)
	case "watch":
		return a.watch(ctx, args)
	case "cache":
		return a.cache(ctx, args)
	case "gen-modules":
		return a.genModules(ctx, args)
	case "version", "--version":
		a.log.Note("ubuild %s built %s", version, buildDate)
		return nil
	case "help", "-h", "--help":
		printHelp(os.Stdout)
		return nil
	}
	printHelp(os.Stderr)
	return fmt.Errorf("unknown command %q", name)
}

// handleSignals cancels ctx on the first interrupt so running tools are
// killed and the cache stays consistent. A second interrupt exits at once.
func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		fmt.Fprint(os.Stderr, color.Yellow.Sprint("\n-> "))
		color.Danger.Printf("Received %v. Cancelling build\n", sig)
		cancel()
	case <-ctx.Done():
		return
	}
	select {
	case <-sigs:
		color.Danger.Println("Second interrupt received. Forcing immediate exit.")
		os.Exit(130)
	case <-time.After(10 * time.Second):
		color.Danger.Println("Graceful shutdown timeout. Exiting.")
		os.Exit(130)
	}
}

func envBool(environ []string, key string) bool {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return v != "" && v != "0" && v != "false"
		}
	}
	return false
}

// parse binds the option flags in groups plus the command's own flags and
// loads the layered options.
func (a *app) parse(name string, groups int, args []string, extra func(*flag.FlagSet)) (config.Options, error) {
	fs := flag.NewFlagSet("ubuild "+name, flag.ContinueOnError)
	flags := config.BindFlags(fs, groups)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return config.Options{}, err
	}
	if fs.NArg() > 0 {
		return config.Options{}, fmt.Errorf("%s: unexpected argument %q", name, fs.Arg(0))
	}
	return config.Load(flags, a.environ)
}
