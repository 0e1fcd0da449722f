/*
Copyright © 2024 the tfgen authors.
This file is part of tfgen.

tfgen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tfgen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tfgen.  If not, see <http://www.gnu.org/licenses/>.
*/

package tfgen

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// WarmupCalls is the number of solver calls at the start of each cell
// whose timings are excluded from profiling. The first call has no
// checkpoint and is not representative of steady-state cost.
const WarmupCalls = 1

// Profiler accumulates solver stage timings over the calls of one cell,
// excluding the first WarmupCalls calls.
type Profiler struct {
	calls   int
	labels  []string
	sums    map[string]float64
	samples map[string][]float64
}

// NewProfiler returns an empty Profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		sums:    make(map[string]float64),
		samples: make(map[string][]float64),
	}
}

// Record adds the timings of one call.
func (p *Profiler) Record(pr Profile) {
	p.calls++
	if p.calls <= WarmupCalls {
		return
	}
	for i, l := range pr.Labels {
		if _, ok := p.sums[l]; !ok {
			p.labels = append(p.labels, l)
		}
		p.sums[l] += pr.Durations[i]
		p.samples[l] = append(p.samples[l], pr.Durations[i])
	}
}

// Calls returns the number of calls recorded, including warm-up calls.
func (p *Profiler) Calls() int { return p.calls }

// Average returns the accumulated timings divided by the number of
// non-warm-up calls. It returns nil if there were none.
func (p *Profiler) Average() *Profile {
	n := p.calls - WarmupCalls
	if n <= 0 {
		return nil
	}
	o := &Profile{Labels: make([]string, len(p.labels)), Durations: make([]float64, len(p.labels))}
	for i, l := range p.labels {
		o.Labels[i] = l
		o.Durations[i] = p.sums[l] / float64(n)
	}
	return o
}

// Summary returns one "label: mean ± std s" entry per stage.
func (p *Profiler) Summary() string {
	var b strings.Builder
	for i, l := range p.labels {
		if i > 0 {
			b.WriteString(", ")
		}
		mean, std := stat.MeanStdDev(p.samples[l], nil)
		if len(p.samples[l]) < 2 {
			std = 0
		}
		fmt.Fprintf(&b, "%s: %.4f ± %.4f s", l, mean, std)
	}
	return b.String()
}
