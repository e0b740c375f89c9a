// Command microsim runs the sample tax-benefit system over a stored dataset
// and prints the weighted total and mean of one variable. Storage, logging and
// simulation settings come from the MICROSIM_* environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"microsim/internal/config"
	"microsim/internal/microsim"
	"microsim/internal/observability"
	"microsim/internal/persistence"
	"microsim/pkg/entities"
	"microsim/pkg/period"
	"microsim/plugins/sample"
)

var exitFunc = os.Exit

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type flags struct {
	dataset string
	name    string
	period  string
	mapTo   string
	how     string
	list    bool
	metrics bool
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("microsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f flags
	fs.StringVar(&f.dataset, "dataset", "", "name of the stored dataset")
	fs.StringVar(&f.name, "var", "", "variable to calculate")
	fs.StringVar(&f.period, "period", "", "period to calculate (default: the simulation year)")
	fs.StringVar(&f.mapTo, "map-to", "", "entity to map the result to")
	fs.StringVar(&f.how, "how", "", "aggregation used when mapping")
	fs.BoolVar(&f.list, "list", false, "list stored datasets and exit")
	fs.BoolVar(&f.metrics, "metrics", false, "print calculation counters after the query")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !f.list && (f.dataset == "" || f.name == "") {
		_, _ = fmt.Fprintln(stderr, "microsim: -dataset and -var are required")
		return 2
	}
	if err := run(ctx, f, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "microsim: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, f flags, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := persistence.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	if f.list {
		names, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			_, _ = fmt.Fprintln(stdout, n)
		}
		return nil
	}

	q := microsim.Query{MapTo: entities.Kind(f.mapTo), How: f.how}
	if f.period != "" {
		if q.Period, err = period.Parse(f.period); err != nil {
			return err
		}
	}
	system, err := sample.System()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	recorder, err := observability.NewPrometheusRecorder(reg)
	if err != nil {
		return err
	}
	m, err := microsim.Open(ctx, cfg, store, f.dataset, system,
		microsim.WithMetricsRecorder(recorder),
		microsim.WithTracer(observability.NewOTelTracer(otel.GetTracerProvider())),
	)
	if err != nil {
		return err
	}
	s, err := m.Calc(ctx, f.name, q)
	if err != nil {
		return err
	}
	at := q.Period
	if at.IsZero() {
		at = m.Year()
	}
	_, _ = fmt.Fprintf(stdout, "%s %s: sum=%.2f mean=%.2f weight=%.2f\n", f.name, at, s.Sum(), s.Mean(), s.Count())
	if f.metrics {
		return printCounters(reg, stdout)
	}
	return nil
}

func printCounters(reg *prometheus.Registry, w io.Writer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), c.GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		_, _ = fmt.Fprintln(w, l)
	}
	return nil
}
