// Package testutil provides helpers that tests use to keep the package layering
// honest: public packages under pkg/ must not reach into internal/, and
// content plugins must only see the engine through its exported surface.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertNoDirectImports parses every non-test .go file in dir and fails if any
// import path satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "direct imports", reason, viols)
}

// AssertNoTransitiveImports loads the packages matching patterns, relative to
// dir, and fails if any of them depends on a package satisfying forbidden,
// however indirectly.
func AssertNoTransitiveImports(t testing.TB, dir string, patterns []string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := transitiveImportViolations(dir, patterns, forbidden)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "transitive dependency", reason, viols)
}

// AssertImportedOnlyBy loads the packages matching patterns, relative to dir,
// and fails if any package outside allowed imports a package satisfying
// target directly.
func AssertImportedOnlyBy(t testing.TB, dir string, patterns []string, target, allowed func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := importerViolations(dir, patterns, target, allowed)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "importers", reason, viols)
}

// InternalImportForbidden matches any import path with an /internal/ element.
// Standard library packages such as crypto/internal/... match too, so use it
// for direct imports only.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// PathPrefixForbidden matches the package prefix and everything below it.
func PathPrefixForbidden(prefix string) func(string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(path string) bool {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
}

var loadPackages = func(dir string, patterns []string) ([]*packages.Package, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps,
		Dir:  dir,
	}
	return packages.Load(cfg, patterns...)
}

// transitiveImportViolations reports "root -> dep" for every forbidden
// package reachable from a root. A root that itself matches is not reported.
func transitiveImportViolations(dir string, patterns []string, forbidden func(string) bool) ([]string, error) {
	roots, err := loadPackages(dir, patterns)
	if err != nil {
		return nil, err
	}
	if err := loadErrors(roots); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, root := range roots {
		var walk func(p *packages.Package)
		visited := map[string]bool{}
		walk = func(p *packages.Package) {
			for path, dep := range p.Imports {
				if visited[path] {
					continue
				}
				visited[path] = true
				if forbidden(path) {
					seen[root.PkgPath+" -> "+path] = struct{}{}
				}
				walk(dep)
			}
		}
		walk(root)
	}
	return sortedKeys(seen), nil
}

// importerViolations reports "importer -> target" for every direct import of
// a target package by a package outside allowed.
func importerViolations(dir string, patterns []string, target, allowed func(string) bool) ([]string, error) {
	pkgs, err := loadPackages(dir, patterns)
	if err != nil {
		return nil, err
	}
	if err := loadErrors(pkgs); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, p := range pkgs {
		if allowed(p.PkgPath) {
			continue
		}
		for path := range p.Imports {
			if target(path) {
				seen[p.PkgPath+" -> "+path] = struct{}{}
			}
		}
	}
	return sortedKeys(seen), nil
}

func loadErrors(roots []*packages.Package) error {
	var msgs []string
	packages.Visit(roots, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			msgs = append(msgs, e.Error())
		}
	})
	if len(msgs) > 0 {
		return fmt.Errorf("%s", strings.Join(msgs, "\n"))
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
