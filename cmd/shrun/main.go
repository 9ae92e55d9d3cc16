// Command shrun runs a literate shell-session test script against a real
// shell and reports, per test case, whether the shell's actual output
// matched the script's expected output.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/agruen/shrun/internal/config"
	"github.com/agruen/shrun/internal/engine"
	"github.com/agruen/shrun/internal/report"
	"github.com/agruen/shrun/internal/shellproc"
	"github.com/agruen/shrun/internal/termio"
)

const description = `Drive a shell through a literate test script and report pass/fail per case.

A test script is plain text: a line starting with $ is a command, + continues
it, > is a line of expected output, < is a line of stdin fed to the command,
and anything else is prose and is ignored. Run with no SCRIPT argument to read the script
from stdin.
`

func main() {
	cli := &config.CLI{}

	parser, err := kong.New(cli,
		kong.Name("shrun"),
		kong.Description(description),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}

	if _, err := parser.Parse(os.Args[1:]); err != nil {
		parser.FatalIfErrorf(err)
	}

	opts, err := config.Resolve(afero.NewOsFs(), cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shrun: %v\n", err)
		os.Exit(1)
	}

	if opts.Verbose {
		logFile, path, err := termio.InitLogging("shrun.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "shrun: opening log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		fmt.Fprintf(os.Stderr, "shrun: verbose diagnostics logged to %s\n", path)
	}

	scriptSrc, closeScript, err := openScript(opts.Script)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shrun: %v\n", err)
		os.Exit(1)
	}
	defer closeScript()

	sh, err := shellproc.Spawn(opts.ShellPath, !opts.NoStderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shrun: spawning %s: %v\n", opts.ShellPath, err)
		os.Exit(1)
	}
	defer sh.Close()

	if opts.Verbose {
		log.Printf("spawned shell %s (pid %d)", opts.ShellPath, sh.PID())
	}

	colorOn := config.ColorEnabled(opts.Color, term.IsTerminal(int(os.Stdout.Fd())))
	palette := report.NewPalette(colorOn)
	reporter := report.New(os.Stdout, palette, opts.Verbose)

	eng := engine.New(sh, reporter, opts.Timeout, opts.StopAt)

	result, err := eng.Run(scriptSrc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shrun: %v\n", err)
		os.Exit(1)
	}

	if opts.Verbose {
		log.Printf("run complete: passed=%d failed=%d timedOut=%v interrupted=%v",
			result.Passed, result.Failed, result.TimedOut, result.Interrupted)
	}

	if result.Interrupted || result.TimedOut || result.Failed > 0 {
		os.Exit(1)
	}
	os.Exit(0)
}

// openScript opens path for reading, or returns stdin if path is empty.
func openScript(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
