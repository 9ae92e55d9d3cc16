// Package config resolves shrun's run-time options from CLI flags (parsed
// by the caller via kong) and an optional ~/.config/shrun/config.yaml,
// whose values apply only where a flag was left at its default. An
// optional ~/.config/shrun/.env is loaded into the process environment
// (variables already set are kept) for the driven shell to inherit; it
// does not feed Options.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v2"
)

// CLI is the kong argument struct; cmd/shrun wires this directly to
// kong.Parse. Field order matches the usage line in the spec.
type CLI struct {
	Timeout  int    `short:"t" default:"5" help:"Per-command timeout in seconds."`
	StopAt   int    `name:"stop-at" help:"1-based script line to break into interactive mode at."`
	Shell    string `default:"/bin/sh" help:"Shell binary to drive."`
	Color    string `enum:"never,always,auto" default:"auto" help:"Colorize diff output: never, always, or auto."`
	NoStderr bool   `name:"no-stderr" help:"Do not merge the shell's stderr into its output stream."`
	Verbose  bool   `short:"v" help:"Print intra-line diff annotations and engine diagnostics."`

	Script string `arg:"" optional:"" type:"existingfile" help:"Test script path; stdin if omitted."`
}

// Options is the resolved, engine-facing configuration: a plain value with
// no further parsing required, the Go analogue of the original's static
// opt_* globals collapsed into one record (see the Engine design note).
type Options struct {
	ShellPath string
	Timeout   time.Duration
	StopAt    int // 0 disables the breakpoint
	Color     string
	NoStderr  bool
	Verbose   bool
	Script    string // empty means stdin
}

const (
	configDirEnv  = "~/.config/shrun"
	configFile    = "config.yaml"
	dotenvDefault = "~/.config/shrun/.env"
)

// fileConfig is the subset of Options a config.yaml may override; zero
// values are "unset" and left to the CLI/.env layer.
type fileConfig struct {
	Timeout  *int    `yaml:"timeout"`
	Shell    *string `yaml:"shell"`
	Color    *string `yaml:"color"`
	NoStderr *bool   `yaml:"no_stderr"`
}

// Resolve turns parsed CLI flags into Options, after layering in any
// ~/.config/shrun/.env and ~/.config/shrun/config.yaml found on fs.
// Reading through an afero.Fs (rather than the os package directly) is
// what makes this testable with an in-memory filesystem.
func Resolve(fs afero.Fs, cli *CLI) (*Options, error) {
	loadDotenv(fs)

	opts := &Options{
		ShellPath: cli.Shell,
		Timeout:   time.Duration(cli.Timeout) * time.Second,
		StopAt:    cli.StopAt,
		Color:     cli.Color,
		NoStderr:  cli.NoStderr,
		Verbose:   cli.Verbose,
		Script:    cli.Script,
	}

	fc, err := loadFileConfig(fs)
	if err != nil {
		return nil, err
	}
	if fc != nil {
		applyFileDefaults(opts, cli, fc)
	}

	// §6: --stop-at is ignored when reading from stdin (no path given):
	// there would be no terminal line count for the caller to reason
	// about, and no local tty to hand interactive control to.
	if opts.Script == "" {
		opts.StopAt = 0
	}

	// §6: the shell must be executable, not merely present - matches the
	// original's access(opt_shell, X_OK) check.
	if err := unix.Access(opts.ShellPath, unix.X_OK); err != nil {
		return nil, fmt.Errorf("shell %q is not executable: %w", opts.ShellPath, err)
	}

	return opts, nil
}

// applyFileDefaults fills in opts from the config file only where the CLI
// value equals its kong default; a flag given explicitly with its default
// value counts as unset and is overridden too.
func applyFileDefaults(opts *Options, cli *CLI, fc *fileConfig) {
	if fc.Timeout != nil && cli.Timeout == 5 {
		opts.Timeout = time.Duration(*fc.Timeout) * time.Second
	}
	if fc.Shell != nil && cli.Shell == "/bin/sh" {
		opts.ShellPath = *fc.Shell
	}
	if fc.Color != nil && cli.Color == "auto" {
		opts.Color = *fc.Color
	}
	if fc.NoStderr != nil && !cli.NoStderr {
		opts.NoStderr = *fc.NoStderr
	}
}

func loadDotenv(fs afero.Fs) {
	path, err := homedir.Expand(dotenvDefault)
	if err != nil {
		return
	}
	f, err := fs.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	env, err := godotenv.Parse(f)
	if err != nil {
		return
	}
	for k, v := range env {
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
}

func loadFileConfig(fs afero.Fs) (*fileConfig, error) {
	dir, err := homedir.Expand(configDirEnv)
	if err != nil {
		return nil, nil
	}
	path := dir + "/" + configFile

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &fc, nil
}

// ColorEnabled decides whether the diff reporter should emit ANSI color,
// given the resolved --color mode and whether stdout is a terminal.
func ColorEnabled(mode string, stdoutIsTTY bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return stdoutIsTTY
	}
}
