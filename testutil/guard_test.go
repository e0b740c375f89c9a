package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"example.com/mod/internal/x", true},
		{"example.com/mod/pkg/x", false},
		{"example.com/mod/internalish", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestPathPrefixForbidden(t *testing.T) {
	f := PathPrefixForbidden("microsim/internal/")
	cases := map[string]bool{
		"microsim/internal":           true,
		"microsim/internal/core":      true,
		"microsim/internalx":          false,
		"crypto/internal/fips140/aes": false,
	}
	for in, want := range cases {
		if got := f(in); got != want {
			t.Fatalf("PathPrefixForbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	writeFile(t, dir, "b.go", "package tmp\nimport _ \"example.com/mod/internal/secret\"")
	// test files and subdirectories are not scanned
	writeFile(t, dir, "a_test.go", "package tmp\nimport _ \"example.com/mod/internal/fixture\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "c.go", "package sub\nimport _ \"example.com/mod/internal/other\"")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "example.com/mod/internal/secret (in b.go)" {
		t.Fatalf("violations: %v", viols)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "this is not go")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	r := &recordingFatal{}
	failIfViolations(r, "direct imports", "layering", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure: %s", r.msg)
	}
	failIfViolations(r, "direct imports", "layering", []string{"a", "b"})
	if !strings.Contains(r.msg, "forbidden direct imports detected (layering)") || !strings.HasSuffix(r.msg, "a\nb") {
		t.Fatalf("message: %q", r.msg)
	}
}

func withLoader(t *testing.T, fn func(string, []string) ([]*packages.Package, error)) {
	t.Helper()
	prev := loadPackages
	loadPackages = fn
	t.Cleanup(func() { loadPackages = prev })
}

func TestTransitiveImportViolationsWalksGraph(t *testing.T) {
	leaf := &packages.Package{PkgPath: "m/internal/core", Imports: map[string]*packages.Package{}}
	mid := &packages.Package{PkgPath: "m/pkg/mid", Imports: map[string]*packages.Package{"m/internal/core": leaf}}
	clean := &packages.Package{PkgPath: "m/pkg/clean", Imports: map[string]*packages.Package{}}
	root := &packages.Package{PkgPath: "m/pkg/root", Imports: map[string]*packages.Package{"m/pkg/mid": mid}}
	withLoader(t, func(string, []string) ([]*packages.Package, error) {
		return []*packages.Package{root, clean}, nil
	})
	viols, err := transitiveImportViolations(".", []string{"./pkg/..."}, PathPrefixForbidden("m/internal"))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(viols) != 1 || viols[0] != "m/pkg/root -> m/internal/core" {
		t.Fatalf("violations: %v", viols)
	}
}

func TestTransitiveImportViolationsReportsLoadErrors(t *testing.T) {
	broken := &packages.Package{PkgPath: "m/pkg/broken", Errors: []packages.Error{{Msg: "no Go files"}}}
	withLoader(t, func(string, []string) ([]*packages.Package, error) {
		return []*packages.Package{broken}, nil
	})
	if _, err := transitiveImportViolations(".", []string{"./pkg/..."}, PathPrefixForbidden("m/internal")); err == nil || !strings.Contains(err.Error(), "no Go files") {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestImporterViolationsHonoursAllowList(t *testing.T) {
	driver := &packages.Package{PkgPath: "m/internal/infra/blob/s3"}
	wrapper := &packages.Package{PkgPath: "m/internal/blob", Imports: map[string]*packages.Package{driver.PkgPath: driver}}
	sibling := &packages.Package{PkgPath: "m/internal/infra/blob/fs", Imports: map[string]*packages.Package{driver.PkgPath: driver}}
	caller := &packages.Package{PkgPath: "m/internal/persistence", Imports: map[string]*packages.Package{
		driver.PkgPath:  driver,
		wrapper.PkgPath: wrapper,
	}}
	withLoader(t, func(string, []string) ([]*packages.Package, error) {
		return []*packages.Package{wrapper, sibling, caller, driver}, nil
	})
	allowed := func(p string) bool {
		return PathPrefixForbidden("m/internal/blob")(p) || PathPrefixForbidden("m/internal/infra/blob")(p)
	}
	viols, err := importerViolations(".", []string{"./..."}, PathPrefixForbidden("m/internal/infra/blob"), allowed)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "m/internal/persistence -> m/internal/infra/blob/s3" {
		t.Fatalf("violations: %v", viols)
	}
}

// TestPublicPackagesStayOffInternal runs the real loader over this module.
func TestPublicPackagesStayOffInternal(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the module graph")
	}
	AssertNoTransitiveImports(t, "..", []string{"./pkg/..."}, PathPrefixForbidden("microsim/internal"), "pkg/ is the public surface")
}
