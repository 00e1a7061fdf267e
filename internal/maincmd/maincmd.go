package maincmd

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mna/mainer"
	"github.com/vkngwrapper/cellgc"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/config"
	"golang.org/x/exp/slog"
)

const binName = "cellgc"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> [<path>...]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> [<path>...]
       %[1]s -h|--help
       %[1]s -v|--version

Drives the %[1]s garbage collected heap.

The <command> can be one of:
       churn                     Allocate a stream of short-lived cells,
                                 keeping a sliding window of them rooted,
                                 and print the allocator statistics.
       demo                      Allocate two cells, root only the second
                                 one, collect, and show that the first
                                 one was reclaimed.
       run                       Execute the heap scripts at <path>...
                                 and print the result of each statement.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       -c --capacity <bytes>     Heap capacity, overrides CELLGC_CAPACITY.
       -s --strategy <name>      Collection strategy, "copying" or
                                 "mark-and-compact", overrides
                                 CELLGC_STRATEGY.
       --log-level <level>       One of debug, info, warn or error,
                                 overrides CELLGC_LOG_LEVEL.

Valid flag options for the <churn> command are:
       -n --cells <count>        Number of cells to allocate (default 1000).
       --window <count>          Number of cells kept rooted (default 4).
       --seed <value>            Seed of the cell size sequence (default 1).

More information on the %[1]s repository:
       https://github.com/vkngwrapper/cellgc
`, binName)
)

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	Capacity int    `flag:"c,capacity"`
	Strategy string `flag:"s,strategy"`
	LogLevel string `flag:"log-level"`

	Cells  int `flag:"n,cells"`
	Window int `flag:"window"`
	Seed   int `flag:"seed"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return errors.Newf("unknown command: %s", c.args[0])
	}

	if cmdName == "run" && len(c.args[1:]) == 0 {
		return errors.Newf("%s: at least one file must be provided", cmdName)
	}

	for _, flag := range []string{"n", "cells", "window", "seed"} {
		if c.flags[flag] && cmdName != "churn" {
			return errors.Newf("%s: invalid flag '%s'", cmdName, flag)
		}
	}

	if c.Strategy != "" {
		if _, err := collect.ParseKind(c.Strategy); err != nil {
			return err
		}
	}

	return nil
}

// settings merges the environment configuration with the command-line flags, flags winning
func (c *Cmd) settings() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	if c.flags["c"] || c.flags["capacity"] {
		cfg.Capacity = c.Capacity
	}

	if c.Strategy != "" {
		cfg.Strategy, err = collect.ParseKind(c.Strategy)
		if err != nil {
			return cfg, err
		}
	}

	if c.LogLevel != "" {
		err = cfg.LogLevel.UnmarshalText([]byte(c.LogLevel))
		if err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.Validate()
}

func (c *Cmd) newAllocator(stdio mainer.Stdio, cfg config.Config) (*cellgc.Allocator, error) {
	logger := slog.New(slog.NewTextHandler(stdio.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return cellgc.New(logger, cfg.CreateOptions())
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false, // the environment is read by the config package
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		// each command takes care of printing its errors, just return with an error code
		return mainer.Failure
	}
	return mainer.Success
}

// valid commands are those that take a context, a mainer.Stdio and a slice of strings as
// input, and return an error as output.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		// must take 4 parameters (including receiver) and return 1
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}

		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
