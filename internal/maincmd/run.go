package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mna/mainer"
	"github.com/vkngwrapper/cellgc"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/config"
	"github.com/vkngwrapper/cellgc/heap"
	"golang.org/x/exp/slog"
)

func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	cfg, err := c.settings()
	if err != nil {
		return printError(stdio, err)
	}

	logger := slog.New(slog.NewTextHandler(stdio.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return RunFiles(ctx, stdio, logger, cfg, args...)
}

// RunFiles executes each heap script in files against a fresh allocator created from cfg.
// A script stops at its first failing statement; the error is printed to stdio.Stderr and
// the remaining files still run. The first error is returned.
//
// A script holds one statement per line, and # starts a comment:
//
//	heap <strategy> <capacity>       replace the allocator, before any other statement
//	alloc <name> <type> <size>       allocate a cell and bind its handle to name
//	write <name> <offset> <value>    write a field; value is a number, 'c', nil or a name
//	read <name> <offset>             print a field
//	link <name> <index> <target>     store a name or nil in a pointer slot
//	follow <name> <index> <target>   bind target to the handle in a pointer slot
//	push <name> [<type>]             push a root, pointer-typed by default
//	pop                              pop a root
//	release <name>                   free a cell explicitly
//	collect                          run a collection and print its statistics
//	validate                         check the heap invariants
//	stats                            print the allocator statistics as JSON
//	dump                             print the statistics and every cell as JSON
//
// Names survive a collection only if they were pushed as roots.
func RunFiles(ctx context.Context, stdio mainer.Stdio, logger *slog.Logger, cfg config.Config, files ...string) error {
	var first error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return printError(stdio, err)
		}

		err := runFile(ctx, stdio, logger, cfg, file)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func runFile(ctx context.Context, stdio mainer.Stdio, logger *slog.Logger, cfg config.Config, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	allocator, err := cellgc.New(logger, cfg.CreateOptions())
	if err != nil {
		return errors.Wrap(err, file)
	}

	s := &script{
		stdio:     stdio,
		logger:    logger,
		allocator: allocator,
		names:     make(map[string]cellgc.Handle),
	}
	return s.run(ctx, file, f)
}

type script struct {
	stdio     mainer.Stdio
	logger    *slog.Logger
	allocator *cellgc.Allocator
	started   bool

	names map[string]cellgc.Handle
	// rootNames holds the name pushed with each root stack entry, bottom first. Scalar roots
	// and pushed literals have an empty name.
	rootNames   []string
	collections int
}

func (s *script) run(ctx context.Context, file string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++

		if err := ctx.Err(); err != nil {
			return err
		}

		text, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		err := s.exec(fields[0], fields[1:])
		if err != nil {
			return errors.Wrapf(err, "%s:%d", file, line)
		}
		s.started = true
	}

	return scanner.Err()
}

func (s *script) exec(stmt string, args []string) error {
	want := map[string]int{
		"heap": 2, "alloc": 3, "write": 3, "read": 2, "link": 3, "follow": 3, "release": 1,
		"pop": 0, "collect": 0, "validate": 0, "stats": 0, "dump": 0,
	}

	count, ok := want[stmt]
	if stmt == "push" {
		ok = len(args) == 1 || len(args) == 2
	} else if ok {
		ok = len(args) == count
	} else {
		return errors.Newf("unknown statement %q", stmt)
	}
	if !ok {
		return errors.Newf("wrong number of arguments for %s", stmt)
	}

	switch stmt {
	case "heap":
		return s.reset(args[0], args[1])
	case "alloc":
		return s.alloc(args[0], args[1], args[2])
	case "write":
		return s.write(args[0], args[1], args[2])
	case "read":
		return s.read(args[0], args[1])
	case "link":
		return s.link(args[0], args[1], args[2])
	case "follow":
		return s.follow(args[0], args[1], args[2])
	case "push":
		typ := heap.TypePointer.String()
		if len(args) == 2 {
			typ = args[1]
		}
		return s.push(args[0], typ)
	case "pop":
		return s.pop()
	case "release":
		return s.release(args[0])
	case "collect":
		stats, err := s.allocator.Collect()
		if err != nil {
			return err
		}
		printCollection(s.stdio, stats)
		return s.refresh()
	case "validate":
		err := s.allocator.Validate()
		if err != nil {
			return err
		}
		fmt.Fprintln(s.stdio.Stdout, "valid")
	case "stats":
		fmt.Fprintln(s.stdio.Stdout, s.allocator.BuildStatsString(false))
	case "dump":
		fmt.Fprintln(s.stdio.Stdout, s.allocator.BuildStatsString(true))
	}
	return nil
}

func (s *script) reset(strategy, capacity string) error {
	if s.started {
		return errors.New("heap must be the first statement")
	}

	kind, err := collect.ParseKind(strategy)
	if err != nil {
		return err
	}

	size, err := strconv.Atoi(capacity)
	if err != nil {
		return errors.Wrapf(err, "invalid capacity %q", capacity)
	}

	s.allocator, err = cellgc.New(s.logger, cellgc.CreateOptions{Capacity: size, Strategy: kind})
	return err
}

// refresh rebinds names after a collection: rooted names follow their cell, every other name
// is forgotten
func (s *script) refresh() error {
	if s.allocator.Stats().Collections == s.collections {
		return nil
	}
	s.collections = s.allocator.Stats().Collections

	clear(s.names)
	for i, name := range s.rootNames {
		if name == "" {
			continue
		}

		handle, _, err := s.allocator.Root(len(s.rootNames) - 1 - i)
		if err != nil {
			return err
		}
		s.names[name] = handle
	}
	return nil
}

func (s *script) lookup(name string) (cellgc.Handle, error) {
	handle, ok := s.names[name]
	if !ok {
		return cellgc.NilHandle, errors.Newf("unknown name %q", name)
	}
	return handle, nil
}

func parseType(str string) (heap.Type, error) {
	for _, typ := range []heap.Type{heap.TypeByte, heap.TypeChar, heap.TypePointer} {
		if typ.String() == str {
			return typ, nil
		}
	}
	return 0, errors.Newf("unknown type %q", str)
}

// value parses a number, a quoted character, nil or a bound name
func (s *script) value(str string) (uint32, error) {
	switch {
	case str == "nil":
		return uint32(cellgc.NilHandle), nil

	case strings.HasPrefix(str, "'"):
		unquoted, err := strconv.Unquote(str)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid character %s", str)
		}
		runes := []rune(unquoted)
		if len(runes) != 1 {
			return 0, errors.Newf("invalid character %s", str)
		}
		return uint32(runes[0]), nil

	case str[0] >= '0' && str[0] <= '9':
		v, err := strconv.ParseUint(str, 0, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid number %s", str)
		}
		return uint32(v), nil
	}

	handle, err := s.lookup(str)
	return uint32(handle), err
}

func (s *script) alloc(name, typeName, sizeStr string) error {
	typ, err := parseType(typeName)
	if err != nil {
		return err
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", sizeStr)
	}

	handle, err := s.allocator.Allocate(size, typ)
	if err != nil {
		return err
	}

	// an implicit collection may have moved every rooted cell
	err = s.refresh()
	if err != nil {
		return err
	}

	s.names[name] = handle
	fmt.Fprintf(s.stdio.Stdout, "%s = %d\n", name, handle)
	return nil
}

func (s *script) write(name, offsetStr, valueStr string) error {
	handle, err := s.lookup(name)
	if err != nil {
		return err
	}

	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return errors.Wrapf(err, "invalid offset %q", offsetStr)
	}

	value, err := s.value(valueStr)
	if err != nil {
		return err
	}

	return s.allocator.WriteField(handle, offset, value)
}

func (s *script) read(name, offsetStr string) error {
	handle, err := s.lookup(name)
	if err != nil {
		return err
	}

	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return errors.Wrapf(err, "invalid offset %q", offsetStr)
	}

	value, err := s.allocator.ReadField(handle, offset)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.stdio.Stdout, "%s[%d] = %d\n", name, offset, value)
	return nil
}

func (s *script) link(name, indexStr, target string) error {
	handle, err := s.lookup(name)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil {
		return errors.Wrapf(err, "invalid index %q", indexStr)
	}

	targetHandle := cellgc.NilHandle
	if target != "nil" {
		targetHandle, err = s.lookup(target)
		if err != nil {
			return err
		}
	}

	return s.allocator.WritePointer(handle, index, targetHandle)
}

func (s *script) follow(name, indexStr, target string) error {
	handle, err := s.lookup(name)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil {
		return errors.Wrapf(err, "invalid index %q", indexStr)
	}

	targetHandle, err := s.allocator.ReadPointer(handle, index)
	if err != nil {
		return err
	}

	s.names[target] = targetHandle
	fmt.Fprintf(s.stdio.Stdout, "%s = %d\n", target, targetHandle)
	return nil
}

func (s *script) push(name, typeName string) error {
	typ, err := parseType(typeName)
	if err != nil {
		return err
	}

	rootName := name
	value, ok := s.names[name]
	if !ok {
		rootName = ""
		v, err := s.value(name)
		if err != nil {
			return err
		}
		value = cellgc.Handle(v)
	}

	err = s.allocator.PushRoot(value, typ)
	if err != nil {
		return err
	}

	if typ != heap.TypePointer {
		rootName = ""
	}
	s.rootNames = append(s.rootNames, rootName)
	return nil
}

func (s *script) pop() error {
	_, _, err := s.allocator.PopRoot()
	if err != nil {
		return err
	}

	s.rootNames = s.rootNames[:len(s.rootNames)-1]
	return nil
}

func (s *script) release(name string) error {
	handle, err := s.lookup(name)
	if err != nil {
		return err
	}

	err = s.allocator.Release(handle)
	if err != nil {
		return err
	}

	delete(s.names, name)
	return nil
}
