// Command paramcheck validates a directory of YAML parameter files: every file
// must match the parameter schema, every uprating index must exist, and with
// -at every parameter and scale must resolve on that date.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"microsim/pkg/parameters"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type report struct {
	parameters int
	scales     int
	undefined  []string
	problems   []string
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("paramcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dir    string
		at     string
		strict bool
	)
	fs.StringVar(&dir, "dir", "parameters", "directory of parameter yaml files")
	fs.StringVar(&at, "at", "", "also resolve every parameter on this date (YYYY-MM-DD)")
	fs.BoolVar(&strict, "strict", false, "treat parameters undefined on -at as failures")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(dir) == "" {
		_, _ = fmt.Fprintln(stderr, "paramcheck: -dir is required")
		return 2
	}

	r, err := run(dir, at)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Parameter validation failed: %v\n", err)
		return 1
	}
	failed := len(r.problems) > 0 || (strict && len(r.undefined) > 0)
	for _, p := range r.problems {
		_, _ = fmt.Fprintf(stderr, "error: %s\n", p)
	}
	for _, u := range r.undefined {
		_, _ = fmt.Fprintf(stderr, "undefined: %s\n", u)
	}
	if failed {
		_, _ = fmt.Fprintln(stderr, "Parameter validation failed.")
		return 1
	}
	p := message.NewPrinter(language.English)
	if _, err := p.Fprintf(stdout, "Parameter validation passed: %d parameters, %d scales.\n", r.parameters, r.scales); err != nil {
		return 1
	}
	return 0
}

// run loads dir and checks the tree. Load and schema errors are returned as
// an error; per-parameter findings are collected in the report.
func run(dir, at string) (report, error) {
	var r report
	info, err := os.Stat(dir)
	if err != nil {
		return r, fmt.Errorf("read %s: %w", dir, err)
	}
	if !info.IsDir() {
		return r, fmt.Errorf("%s is not a directory", dir)
	}
	tree, err := parameters.LoadDir(dir)
	if err != nil {
		return r, err
	}

	var paths, scalePaths []string
	err = tree.Walk(func(path string, n *parameters.Node) error {
		if p, ok := n.Parameter(); ok {
			r.parameters++
			paths = append(paths, path)
			if idx := p.Uprating(); idx != "" {
				if n, err := tree.Lookup(idx); err != nil {
					r.problems = append(r.problems, fmt.Sprintf("%s: uprating index %s does not exist", path, idx))
				} else if _, ok := n.Parameter(); !ok {
					r.problems = append(r.problems, fmt.Sprintf("%s: uprating index %s is not a parameter", path, idx))
				}
			}
			return nil
		}
		if _, ok := n.Scale(); ok {
			r.scales++
			scalePaths = append(scalePaths, path)
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	if at == "" {
		return r, nil
	}

	date, err := parameters.ParseDate(at)
	if err != nil {
		return r, fmt.Errorf("-at: %w", err)
	}
	snap := tree.At(date)
	for _, path := range paths {
		if _, err := snap.Float(path); err != nil {
			classify(&r, path, err)
		}
	}
	for _, path := range scalePaths {
		if _, err := snap.Scale(path); err != nil {
			classify(&r, path, err)
		}
	}
	sort.Strings(r.undefined)
	sort.Strings(r.problems)
	return r, nil
}

func classify(r *report, path string, err error) {
	var undef parameters.ParameterUndefinedAtDateError
	if errors.As(err, &undef) {
		r.undefined = append(r.undefined, path)
		return
	}
	r.problems = append(r.problems, fmt.Sprintf("%s: %v", path, err))
}
