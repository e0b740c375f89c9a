package microsim

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"microsim/internal/core"
	"microsim/pkg/entities"
	"microsim/pkg/period"
	"microsim/pkg/weighted"
)

// DefaultDelta is the perturbation used when DerivOptions.Delta is zero.
const DefaultDelta = 100

// DerivOptions configures a numerical derivative. Delta is added to the
// variable, or read as a percentage when Percent is set. A zero Period means
// the default year and a zero GroupLimit the configured limit.
//
// Eligible names a person variable restricting group derivatives to the
// members where it is true, typically adults. Ineligible members are never
// perturbed, do not count towards the group limit and get NaN.
type DerivOptions struct {
	Delta      float64
	Percent    bool
	Period     period.Period
	GroupLimit int
	Eligible   string
}

type siblingKey struct {
	wrt      string
	delta    float64
	percent  bool
	mode     string
	eligible string
	index    int
}

type siblingJob struct {
	key  siblingKey
	mask core.Vector
}

type siblingResult struct {
	target core.Vector
	wrt    core.Vector
}

// Deriv estimates d target / d wrt for every unit by comparing the simulation
// with siblings in which wrt is perturbed.
//
// When both variables share an entity one sibling suffices and the result is
// on that entity. When target is on a group and wrt on persons, members are
// perturbed one position at a time, up to the group limit, so each person's
// entry measures the group's response to that person alone; the result is on
// persons and members beyond the limit are NaN. Units whose wrt did not move
// are NaN as well.
func (m *Microsimulation) Deriv(ctx context.Context, target, wrt string, o DerivOptions) (core.Vector, error) {
	tv, err := m.system.Registry().Get(target)
	if err != nil {
		return nil, err
	}
	wv, err := m.system.Registry().Get(wrt)
	if err != nil {
		return nil, err
	}
	if o.Delta == 0 {
		o.Delta = DefaultDelta
	}
	if o.GroupLimit <= 0 {
		o.GroupLimit = m.opts.groupLimit
	}
	p := o.Period
	if p.IsZero() {
		p = m.year
	}

	baseTarget, err := m.sim.Calculate(ctx, target, p)
	if err != nil {
		return nil, err
	}
	baseWrt, err := m.sim.Calculate(ctx, wrt, p)
	if err != nil {
		return nil, err
	}

	switch {
	case tv.Entity == wv.Entity:
		key := siblingKey{wrt: wrt, delta: o.Delta, percent: o.Percent, mode: "same", index: -1}
		res, err := m.runSiblings(ctx, target, wrt, p, []siblingJob{{key: key}})
		if err != nil {
			return nil, err
		}
		return ratio(res[0].target.Sub(baseTarget), res[0].wrt.Sub(baseWrt)), nil

	case wv.Entity == entities.Person:
		return m.groupDeriv(ctx, tv.Entity, target, wrt, p, o, baseTarget, baseWrt)

	default:
		return nil, fmt.Errorf("deriv: cannot differentiate %s (%s) with respect to %s (%s)", target, tv.Entity, wrt, wv.Entity)
	}
}

func (m *Microsimulation) groupDeriv(ctx context.Context, group entities.Kind, target, wrt string, p period.Period, o DerivOptions, baseTarget, baseWrt core.Vector) (core.Vector, error) {
	groupOf, err := m.structure.GroupOf(group)
	if err != nil {
		return nil, err
	}
	slot, largest, err := m.memberSlots(ctx, group, groupOf, p, o.Eligible)
	if err != nil {
		return nil, err
	}
	limit := min(o.GroupLimit, largest)
	jobs := make([]siblingJob, limit)
	for i := range jobs {
		mask := make(core.Vector, len(slot))
		for person, s := range slot {
			if s == i {
				mask[person] = 1
			}
		}
		jobs[i] = siblingJob{
			key:  siblingKey{wrt: wrt, delta: o.Delta, percent: o.Percent, mode: "group:" + string(group), eligible: o.Eligible, index: i},
			mask: mask,
		}
	}
	res, err := m.runSiblings(ctx, target, wrt, p, jobs)
	if err != nil {
		return nil, err
	}
	out := core.Filled(len(slot), math.NaN())
	for person, i := range slot {
		if i < 0 || i >= limit {
			continue
		}
		g := groupOf[person]
		dw := res[i].wrt[person] - baseWrt[person]
		if dw == 0 {
			continue
		}
		out[person] = (res[i].target[g] - baseTarget[g]) / dw
	}
	return out, nil
}

// memberSlots numbers the eligible members of each group in person order and
// returns the largest count. Ineligible persons get -1. An empty eligible
// name makes every person eligible.
func (m *Microsimulation) memberSlots(ctx context.Context, group entities.Kind, groupOf []int, p period.Period, eligible string) ([]int, int, error) {
	var mask core.Vector
	if eligible != "" {
		ev, err := m.system.Registry().Get(eligible)
		if err != nil {
			return nil, 0, err
		}
		if ev.Entity != entities.Person {
			return nil, 0, fmt.Errorf("deriv: eligibility variable %s is on %s, not %s", eligible, ev.Entity, entities.Person)
		}
		if mask, err = m.sim.Calculate(ctx, eligible, p); err != nil {
			return nil, 0, err
		}
	}
	counts := make([]int, m.structure.Len(group))
	slot := make([]int, len(groupOf))
	largest := 0
	for person, g := range groupOf {
		if mask != nil && mask[person] == 0 {
			slot[person] = -1
			continue
		}
		slot[person] = counts[g]
		counts[g]++
		largest = max(largest, counts[g])
	}
	return slot, largest, nil
}

// runSiblings computes target and wrt in one sibling per job, building
// missing siblings concurrently.
func (m *Microsimulation) runSiblings(ctx context.Context, target, wrt string, p period.Period, jobs []siblingJob) ([]siblingResult, error) {
	results := make([]siblingResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.workers)
	for i, job := range jobs {
		g.Go(func() error {
			sim, err := m.sibling(job)
			if err != nil {
				return err
			}
			t, err := sim.Calculate(gctx, target, p)
			if err != nil {
				return fmt.Errorf("sibling %s/%d: %w", job.key.mode, job.key.index, err)
			}
			w, err := sim.Calculate(gctx, wrt, p)
			if err != nil {
				return fmt.Errorf("sibling %s/%d: %w", job.key.mode, job.key.index, err)
			}
			results[i] = siblingResult{target: t, wrt: w}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Microsimulation) sibling(job siblingJob) (*core.Simulation, error) {
	m.mu.Lock()
	sim, ok := m.siblings[job.key]
	m.mu.Unlock()
	if ok {
		return sim, nil
	}
	perturbed, err := m.system.Apply(core.Perturb(job.key.wrt, core.Perturbation{
		Delta:   job.key.delta,
		Percent: job.key.percent,
		Mask:    job.mask,
	}))
	if err != nil {
		return nil, err
	}
	sim, _, err = m.newSimulation(perturbed)
	if err != nil {
		return nil, err
	}
	m.opts.logger.Debug("built derivative sibling", "wrt", job.key.wrt, "mode", job.key.mode, "index", job.key.index)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.siblings[job.key]; ok {
		return existing, nil
	}
	m.siblings[job.key] = sim
	return sim, nil
}

func ratio(num, den core.Vector) core.Vector {
	out := make(core.Vector, len(num))
	for i := range num {
		if den[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = num[i] / den[i]
	}
	return out
}

// DerivFrame differentiates several targets with respect to wrt and returns
// them as columns weighted by the entity of the results.
func (m *Microsimulation) DerivFrame(ctx context.Context, targets []string, wrt string, o DerivOptions) (*weighted.Frame, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("microsim: no targets")
	}
	wv, err := m.system.Registry().Get(wrt)
	if err != nil {
		return nil, err
	}
	p := o.Period
	if p.IsZero() {
		p = m.year
	}
	var (
		frame *weighted.Frame
		kind  entities.Kind
	)
	for _, target := range targets {
		tv, err := m.system.Registry().Get(target)
		if err != nil {
			return nil, err
		}
		out := tv.Entity
		if tv.Entity != wv.Entity {
			out = entities.Person
		}
		if frame == nil {
			w, err := m.Weights(ctx, out, p)
			if err != nil {
				return nil, err
			}
			frame, kind = weighted.NewFrame(w), out
		} else if out != kind {
			return nil, fmt.Errorf("deriv frame: %s yields %s values, frame is on %s", target, out, kind)
		}
		d, err := m.Deriv(ctx, target, wrt, o)
		if err != nil {
			return nil, err
		}
		if err := frame.Add(target, d); err != nil {
			return nil, err
		}
	}
	return frame, nil
}
