package parameters

import (
	"errors"
	"math"
	"testing"
	"testing/fstest"
	"time"
)

const sampleYAML = `
description: sample system
gov:
  indices:
    cpi:
      values:
        2020-01-01: 100
        2021-01-01: 110
  benefit:
    amount:
      description: weekly amount
      values:
        2020-01-01: 50
      metadata:
        uprating: gov.indices.cpi
        unit: currency-GBP
    ramp:
      values:
        2020-01-01: 0
        2020-01-11: 10
      metadata:
        interpolate: true
    abolished:
      values:
        2019-01-01: 5
        2020-06-01: null
    by_region:
      NORTH:
        values: {2020-01-01: 1}
      SOUTH:
        values: {2020-01-01: {value: 2}}
    enabled:
      values:
        2020-01-01: true
  tax:
    rates:
      brackets:
        - threshold: {values: {2020-01-01: 0}}
          rate: {values: {2020-01-01: 0.2}}
        - threshold: {values: {2020-01-01: 100}}
          rate: {values: {2020-01-01: 0.4}}
        - threshold: {values: {2022-01-01: 500}}
          rate: {values: {2022-01-01: 0.5}}
    tiers:
      metadata:
        type: single_amount
      brackets:
        - threshold: {values: {2020-01-01: 0}}
          amount: {values: {2020-01-01: 10}}
        - threshold: {values: {2020-01-01: 3}}
          amount: {values: {2020-01-01: 25}}
`

func mustLoad(t *testing.T) *Tree {
	t.Helper()
	tree, err := Load([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return tree
}

func TestResolveScalars(t *testing.T) {
	tree := mustLoad(t)
	cases := []struct {
		path string
		at   time.Time
		want float64
	}{
		{"gov.benefit.amount", Date(2020, 5, 1), 50},
		{"gov.benefit.ramp", Date(2020, 1, 6), 5},
		{"gov.benefit.ramp", Date(2020, 3, 1), 10},
		{"gov.benefit.abolished", Date(2020, 5, 31), 5},
		{"gov.benefit.enabled", Date(2024, 1, 1), 1},
	}
	for _, tc := range cases {
		got, err := tree.Resolve(tc.path, tc.at)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.path, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("resolve %s at %s: got %v want %v", tc.path, tc.at.Format(dateLayout), got, tc.want)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	tree := mustLoad(t)
	_, err := tree.Resolve("gov.benefit.missing", Date(2020, 1, 1))
	var nf ParameterNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ParameterNotFoundError, got %v", err)
	}
	_, err = tree.Resolve("gov.benefit.abolished", Date(2021, 1, 1))
	var undef ParameterUndefinedAtDateError
	if !errors.As(err, &undef) {
		t.Fatalf("expected ParameterUndefinedAtDateError after closure, got %v", err)
	}
	_, err = tree.Resolve("gov.benefit.amount", Date(2019, 12, 31))
	if !errors.As(err, &undef) {
		t.Fatalf("expected ParameterUndefinedAtDateError before first value, got %v", err)
	}
	if _, err := tree.Resolve("gov.tax.rates", Date(2020, 1, 1)); !errors.As(err, &nf) {
		t.Fatalf("resolving a scale as scalar should fail, got %v", err)
	}
}

func TestUpratingFollowsIndexAndIsCached(t *testing.T) {
	tree := mustLoad(t)
	for i := 0; i < 2; i++ {
		got, err := tree.Resolve("gov.benefit.amount", Date(2021, 6, 1))
		if err != nil {
			t.Fatalf("uprate: %v", err)
		}
		if math.Abs(got-55) > 1e-9 {
			t.Fatalf("uprated amount: got %v want 55", got)
		}
	}
	if _, ok := tree.uprated.get(uprateKey{path: "gov.benefit.amount", at: Date(2021, 6, 1)}); !ok {
		t.Fatalf("expected uprated value to be cached")
	}
}

func TestSnapshotSelectAndScale(t *testing.T) {
	snap := mustLoad(t).At(Date(2020, 7, 1)).Sub("gov")
	got, err := snap.Select("benefit.by_region", []string{"SOUTH", "NORTH", "SOUTH"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got[0] != 2 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("select: %v", got)
	}
	if _, err := snap.Select("benefit.by_region", []string{"EAST"}); err == nil {
		t.Fatalf("expected unknown category to fail")
	}
	on, err := snap.Bool("benefit.enabled")
	if err != nil || !on {
		t.Fatalf("bool: %v %v", on, err)
	}

	rates, err := snap.Scale("tax.rates")
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if len(rates.Thresholds) != 2 {
		t.Fatalf("bracket not yet in force should be dropped: %v", rates.Thresholds)
	}
	tax := rates.Calc([]float64{50, 150, -10})
	if tax[0] != 10 || tax[1] != 40 || tax[2] != 0 {
		t.Fatalf("marginal tax: %v", tax)
	}
	if mr := rates.MarginalRates([]float64{50, 150}); mr[0] != 0.2 || mr[1] != 0.4 {
		t.Fatalf("marginal rates: %v", mr)
	}

	tiers, err := snap.Scale("tax.tiers")
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if got := tiers.Calc([]float64{1, 3, 7}); got[0] != 10 || got[1] != 25 || got[2] != 25 {
		t.Fatalf("single amount scale: %v", got)
	}
}

func TestWithValueIsPure(t *testing.T) {
	base := mustLoad(t)
	reformed, err := base.WithValue("gov.benefit.amount", Date(2020, 4, 1), 80)
	if err != nil {
		t.Fatalf("with value: %v", err)
	}
	if v, _ := base.Resolve("gov.benefit.amount", Date(2020, 5, 1)); v != 50 {
		t.Fatalf("base mutated: %v", v)
	}
	if v, _ := reformed.Resolve("gov.benefit.amount", Date(2020, 5, 1)); v != 80 {
		t.Fatalf("reformed: %v", v)
	}
	if v, _ := reformed.Resolve("gov.benefit.amount", Date(2020, 3, 1)); v != 50 {
		t.Fatalf("history before the change should survive: %v", v)
	}
	if _, err := base.WithValue("gov.nope", Date(2020, 1, 1), 1); err == nil {
		t.Fatalf("expected error for unknown path")
	}
}

func TestWithSubtreeCreatesBranches(t *testing.T) {
	base := mustLoad(t)
	leaf := Leaf(NewParameter([]Value{At(Date(2000, 1, 1), 7)}))
	tree, err := base.WithSubtree("gov.new.branch.value", leaf)
	if err != nil {
		t.Fatalf("with subtree: %v", err)
	}
	if v, err := tree.Resolve("gov.new.branch.value", Date(2020, 1, 1)); err != nil || v != 7 {
		t.Fatalf("new leaf: %v %v", v, err)
	}
	if _, err := base.Lookup("gov.new"); err == nil {
		t.Fatalf("base should not see the new branch")
	}
	if _, err := base.WithSubtree("gov.benefit.amount.child", leaf); err == nil {
		t.Fatalf("expected error when descending through a leaf")
	}
}

func TestValidateRejectsMalformedDocuments(t *testing.T) {
	bad := []string{
		"x:\n  values:\n    2020-13: 1\n",
		"x:\n  values:\n    2020-01-01: high\n",
		"x:\n  values: {2020-01-01: 1}\n  extra: 2\n",
		"x:\n  brackets:\n    - rate: {values: {2020-01-01: 0.1}}\n",
	}
	for _, doc := range bad {
		if err := Validate([]byte(doc)); err == nil {
			t.Fatalf("expected validation error for %q", doc)
		}
	}
	if err := Validate([]byte(sampleYAML)); err != nil {
		t.Fatalf("sample should validate: %v", err)
	}
}

func TestLoadFSMountsByPath(t *testing.T) {
	fsys := fstest.MapFS{
		"params/gov/index.yaml":      {Data: []byte("description: government\nflag:\n  values: {2020-01-01: 1}\n")},
		"params/gov/hmrc/rate.yaml":  {Data: []byte("values: {2020-01-01: 0.2}\n")},
		"params/gov/dwp/limits.yml":  {Data: []byte("cap:\n  values: {2020-01-01: 300}\n")},
		"params/gov/dwp/README.md":   {Data: []byte("ignored")},
		"params/gov/dwp/ignored.txt": {Data: []byte("ignored")},
	}
	tree, err := LoadFS(fsys, "params")
	if err != nil {
		t.Fatalf("load fs: %v", err)
	}
	want := map[string]float64{"gov.flag": 1, "gov.hmrc.rate": 0.2, "gov.dwp.limits.cap": 300}
	for path, v := range want {
		got, err := tree.Resolve(path, Date(2021, 1, 1))
		if err != nil || got != v {
			t.Fatalf("%s: got %v err %v", path, got, err)
		}
	}
	var leaves []string
	_ = tree.Walk(func(path string, _ *Node) error {
		leaves = append(leaves, path)
		return nil
	})
	if len(leaves) != 3 || leaves[0] != "gov.dwp.limits.cap" {
		t.Fatalf("walk order: %v", leaves)
	}

	fsys["params/gov/broken.yaml"] = &fstest.MapFile{Data: []byte("x:\n  values: nope\n")}
	if _, err := LoadFS(fsys, "params"); err == nil {
		t.Fatalf("expected error for broken file")
	}
}
