package parameters

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reserved keys of the YAML parameter format. Any other mapping key under a
// branch names a child node.
const (
	keyValues      = "values"
	keyBrackets    = "brackets"
	keyMetadata    = "metadata"
	keyDescription = "description"
	keyReference   = "reference"
)

// Load parses one YAML parameter document into a tree rooted at the document.
func Load(data []byte) (*Tree, error) {
	plain, err := decodeYAML(data)
	if err != nil {
		return nil, err
	}
	if err := validatePlain(plain); err != nil {
		return nil, err
	}
	root, err := buildNode("", plain)
	if err != nil {
		return nil, err
	}
	return NewTree(root), nil
}

// LoadFile reads and parses a YAML parameter file.
func LoadFile(name string) (*Tree, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("parameters: read %s: %w", name, err)
	}
	t, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("parameters: %s: %w", name, err)
	}
	return t, nil
}

// LoadDir loads every YAML file below dir; see LoadFS.
func LoadDir(dir string) (*Tree, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads every .yaml/.yml file below dir in fsys. A file's path relative
// to dir becomes its dotted prefix ("gov/hmrc/income_tax.yaml" is mounted at
// gov.hmrc.income_tax); a file named index.yaml is mounted at its directory.
// Errors from individual files are joined so callers see every bad file.
func LoadFS(fsys fs.FS, dir string) (*Tree, error) {
	tree := NewTree(nil)
	var errs []error
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			return nil
		}
		sub, err := Load(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			return nil
		}
		mounted, err := NewTree(nil).WithSubtree(prefixFor(dir, p), sub.Root())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			return nil
		}
		tree = tree.Merge(mounted)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parameters: walk %s: %w", dir, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return tree, nil
}

func isYAML(p string) bool {
	ext := path.Ext(p)
	return ext == ".yaml" || ext == ".yml"
}

func prefixFor(dir, p string) string {
	rel := strings.TrimPrefix(p, strings.TrimSuffix(dir, "/")+"/")
	if dir == "." {
		rel = p
	}
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	if path.Base(rel) == "index" {
		rel = path.Dir(rel)
		if rel == "." {
			rel = ""
		}
	}
	return strings.ReplaceAll(rel, "/", ".")
}

// DecodePlain decodes a YAML document into JSON-compatible values: maps with
// string keys, slices, float64, bool, string and nil. Duplicate keys are an
// error. Other YAML documents of the module (reform files, config) use it so
// they can be checked against a JSON Schema.
func DecodePlain(data []byte) (any, error) { return decodeYAML(data) }

// decodeYAML keeps date keys as strings rather than timestamps.
func decodeYAML(data []byte) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parameters: decode yaml: %w", err)
	}
	if doc.Kind == 0 {
		return map[string]any{}, nil
	}
	return plainValue(&doc)
}

func plainValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return map[string]any{}, nil
		}
		return plainValue(n.Content[0])
	case yaml.AliasNode:
		return plainValue(n.Alias)
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			if _, dup := out[k]; dup {
				return nil, fmt.Errorf("parameters: line %d: duplicate key %q", n.Content[i].Line, k)
			}
			v, err := plainValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := plainValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!bool":
			b, err := strconv.ParseBool(n.Value)
			if err != nil {
				return nil, fmt.Errorf("parameters: line %d: %w", n.Line, err)
			}
			return b, nil
		case "!!int", "!!float":
			f, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("parameters: line %d: invalid number %q", n.Line, n.Value)
			}
			return f, nil
		default:
			return n.Value, nil
		}
	}
}

func buildNode(p string, v any) (*Node, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters: %s: expected a mapping", displayPath(p))
	}
	desc, _ := m[keyDescription].(string)
	if _, ok := m[keyValues]; ok {
		param, err := buildParameter(p, m)
		if err != nil {
			return nil, err
		}
		n := Leaf(param)
		n.description = desc
		return n, nil
	}
	if _, ok := m[keyBrackets]; ok {
		sc, err := buildScale(p, m)
		if err != nil {
			return nil, err
		}
		n := ScaleLeaf(sc)
		n.description = desc
		return n, nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case keyDescription, keyMetadata, keyReference:
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	children := make(map[string]*Node, len(names))
	for _, name := range names {
		child, err := buildNode(joinPath(p, name), m[name])
		if err != nil {
			return nil, err
		}
		children[name] = child
	}
	n := Branch(children)
	n.description = desc
	return n, nil
}

func buildParameter(p string, m map[string]any) (*Parameter, error) {
	raw, ok := m[keyValues].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters: %s: values must be a mapping of dates", displayPath(p))
	}
	values := make([]Value, 0, len(raw))
	for k, entry := range raw {
		start, err := ParseDate(k)
		if err != nil {
			return nil, fmt.Errorf("parameters: %s: %w", displayPath(p), err)
		}
		if wrapped, ok := entry.(map[string]any); ok {
			entry = wrapped["value"]
		}
		switch x := entry.(type) {
		case nil:
			values = append(values, ClosedAt(start))
		case float64:
			values = append(values, At(start, x))
		case bool:
			amount := 0.0
			if x {
				amount = 1
			}
			values = append(values, At(start, amount))
		default:
			return nil, fmt.Errorf("parameters: %s: value at %s must be a number, boolean or null", displayPath(p), k)
		}
	}
	var opts []ParameterOption
	meta, _ := m[keyMetadata].(map[string]any)
	if b, _ := meta["interpolate"].(bool); b {
		opts = append(opts, WithInterpolation())
	}
	if s, _ := meta["uprating"].(string); s != "" {
		opts = append(opts, WithUprating(s))
	}
	if s, _ := meta["unit"].(string); s != "" {
		opts = append(opts, WithUnit(s))
	}
	if s, _ := m[keyDescription].(string); s != "" {
		opts = append(opts, WithDescription(s))
	}
	return NewParameter(values, opts...), nil
}

func buildScale(p string, m map[string]any) (*Scale, error) {
	raw, ok := m[keyBrackets].([]any)
	if !ok {
		return nil, fmt.Errorf("parameters: %s: brackets must be a list", displayPath(p))
	}
	kind := MarginalRate
	meta, _ := m[keyMetadata].(map[string]any)
	if t, _ := meta["type"].(string); t == "single_amount" {
		kind = SingleAmount
	}
	brackets := make([]Bracket, 0, len(raw))
	for i, rb := range raw {
		bm, ok := rb.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parameters: %s: bracket %d must be a mapping", displayPath(p), i)
		}
		var b Bracket
		for _, field := range []string{"threshold", "rate", "amount"} {
			fv, ok := bm[field]
			if !ok {
				continue
			}
			fm, ok := fv.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parameters: %s: bracket %d %s must be a mapping", displayPath(p), i, field)
			}
			param, err := buildParameter(fmt.Sprintf("%s.brackets[%d].%s", p, i, field), fm)
			if err != nil {
				return nil, err
			}
			switch field {
			case "threshold":
				b.Threshold = param
			case "rate":
				b.Rate = param
			case "amount":
				b.Amount = param
				kind = SingleAmount
			}
		}
		brackets = append(brackets, b)
	}
	desc, _ := m[keyDescription].(string)
	return NewScale(kind, brackets, desc), nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func displayPath(p string) string {
	if p == "" {
		return "<root>"
	}
	return p
}
